package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/container-bootstrap/pkg/runner"
)

type fakeProber struct {
	dsns []string
	err  error
}

func (p *fakeProber) Ping(_ context.Context, dsn string) error {
	p.dsns = append(p.dsns, dsn)
	return p.err
}

type testEnv struct {
	deps     *deps
	runner   *runner.FakeCommandRunner
	launcher *runner.FakeLauncher
	prober   *fakeProber
	appDir   string
	out      bytes.Buffer
	errOut   bytes.Buffer
}

func newTestEnv(t *testing.T, environ ...string) *testEnv {
	t.Helper()
	te := &testEnv{
		runner:   &runner.FakeCommandRunner{},
		launcher: &runner.FakeLauncher{},
		prober:   &fakeProber{},
		appDir:   t.TempDir(),
	}
	te.deps = &deps{
		runner:   te.runner,
		launcher: te.launcher,
		prober:   te.prober,
		environ:  func() []string { return environ },
		lookupEnv: func(string) (string, bool) {
			return "", false
		},
	}
	return te
}

func (te *testEnv) run(args ...string) int {
	root := newRootCmd(te.deps)
	root.SetOut(&te.out)
	root.SetErr(&te.errOut)
	return run(context.Background(), root, append([]string{"--app-dir", te.appDir}, args...), &te.errOut)
}

func (te *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(te.appDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestEntrypointRunsManagementCommandsAndLaunches(t *testing.T) {
	te := newTestEnv(t, "PATH=/usr/bin", "SECRET_KEY=hunter2")
	manage := te.write(t, "manage.py", "")

	code := te.run("entrypoint", "--", "gunicorn", "--bind", "0.0.0.0:8000", "app.wsgi")
	require.Equal(t, 0, code, te.errOut.String())

	assert.Equal(t, []string{
		"python " + manage + " migrate --noinput",
		"python " + manage + " collectstatic --noinput",
	}, te.runner.Invoked())
	assert.True(t, te.launcher.Launched)
	assert.Equal(t, []string{"gunicorn", "--bind", "0.0.0.0:8000", "app.wsgi"}, te.launcher.Argv)
	assert.Contains(t, te.launcher.Env, "SECRET_KEY=hunter2")
	assert.Contains(t, te.out.String(), "SECRET_KEY=***MASKED***\n")
	assert.Contains(t, te.out.String(), "DATABASE_URL is not set")
}

func TestEntrypointPropagatesMigrationExitCode(t *testing.T) {
	te := newTestEnv(t)
	te.write(t, "manage.py", "")
	te.runner.FailOn = "migrate"
	te.runner.ExitCode = 4

	code := te.run("entrypoint", "gunicorn", "app.wsgi")

	assert.Equal(t, 4, code)
	assert.False(t, te.launcher.Launched)
	assert.Len(t, te.runner.Calls, 1)
	assert.Contains(t, te.errOut.String(), "Troubleshooting the migrate step")
}

func TestEntrypointReportsMissingServerBinary(t *testing.T) {
	te := newTestEnv(t)
	te.launcher.LookPathErr = errors.New("executable file not found in $PATH")

	code := te.run("entrypoint", "--report-dir", "out", "--", "gunicorn")

	assert.Equal(t, 1, code)
	assert.False(t, te.launcher.Launched)
	assert.Contains(t, te.errOut.String(), "Troubleshooting the command step")
	report, err := os.ReadFile(filepath.Join(te.appDir, "out", ".bootstrap-report", "run_report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(report), `"outcome": "failure"`)
	assert.Contains(t, string(report), `"failed_step": "command"`)
}

func TestEntrypointRequiresCommand(t *testing.T) {
	te := newTestEnv(t)

	assert.Equal(t, 1, te.run("entrypoint"))
	assert.Empty(t, te.runner.Calls)
	assert.False(t, te.launcher.Launched)
}

func TestEntrypointWritesReportAndMetrics(t *testing.T) {
	te := newTestEnv(t)
	textfile := filepath.Join(t.TempDir(), "bootstrap.prom")

	code := te.run("entrypoint", "--report-dir", "out", "--metrics-textfile", textfile, "--", "server")
	require.Equal(t, 0, code, te.errOut.String())

	assert.FileExists(t, filepath.Join(te.appDir, "out", ".bootstrap-report", "run_report.json"))
	metrics, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `bootstrap_run_success{command="entrypoint"} 1`)
	assert.Contains(t, string(metrics), `bootstrap_step_total{command="entrypoint",outcome="skipped",step="migrate"} 1`)
}

func TestPrestartCreatesDirectories(t *testing.T) {
	te := newTestEnv(t)

	require.Equal(t, 0, te.run("prestart"), te.errOut.String())
	require.Equal(t, 0, te.run("prestart"), "second run must be a no-op")

	for _, d := range []string{"uploads", "logs"} {
		info, err := os.Stat(filepath.Join(te.appDir, d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	}
}

func TestPrestartFailsOnRegularFile(t *testing.T) {
	te := newTestEnv(t)
	te.write(t, "uploads", "not a dir")

	assert.NotEqual(t, 0, te.run("prestart"))
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	te := newTestEnv(t)
	te.write(t, "manage.py", "")
	te.write(t, "bootstrap.yaml", "python: python3.11\n")

	require.Equal(t, 0, te.run("entrypoint", "server"), te.errOut.String())
	require.NotEmpty(t, te.runner.Calls)
	assert.Equal(t, "python3.11", te.runner.Calls[0].Args[0])

	te.runner.Calls = nil
	require.Equal(t, 0, te.run("--python", "/opt/py/bin/python", "entrypoint", "server"))
	assert.Equal(t, "/opt/py/bin/python", te.runner.Calls[0].Args[0])
}

func TestInvalidConfigFails(t *testing.T) {
	te := newTestEnv(t)
	te.write(t, "bootstrap.yaml", "unknown_key: true\n")

	assert.Equal(t, 1, te.run("prestart"))
}

func TestEnvMasksSecrets(t *testing.T) {
	te := newTestEnv(t, "DB_PASSWORD=s3cret", "HOME=/root", "DATABASE_URL=postgres://app:pw@db/app")

	require.Equal(t, 0, te.run("env"))
	assert.Equal(t, "DATABASE_URL=postgres://app:***MASKED***@db/app\nDB_PASSWORD=***MASKED***\nHOME=/root\nDATABASE_URL is set\n", te.out.String())

	te.out.Reset()
	require.Equal(t, 0, te.run("env", "--show-secrets"))
	assert.Contains(t, te.out.String(), "DB_PASSWORD=s3cret\n")
}

func TestPackageWithoutRequirementsCreatesEmptyTarget(t *testing.T) {
	te := newTestEnv(t)

	require.Equal(t, 0, te.run("package"), te.errOut.String())

	assert.DirExists(t, filepath.Join(te.appDir, "package"))
	assert.Empty(t, te.runner.Calls)
	assert.Contains(t, te.out.String(), "0 requirement(s)")
}

func TestPackageRejectsUnknownVariant(t *testing.T) {
	te := newTestEnv(t)

	assert.Equal(t, 1, te.run("package", "--variant", "tiny"))
}

func TestDBCheck(t *testing.T) {
	te := newTestEnv(t)
	assert.Equal(t, 1, te.run("dbcheck"), "missing configuration must fail")

	te = newTestEnv(t, "PGHOST=db", "PGUSER=app", "PGPASSWORD=pw")
	require.Equal(t, 0, te.run("dbcheck", "--timeout", "1s"), te.errOut.String())
	require.Len(t, te.prober.dsns, 1)
	assert.Contains(t, te.prober.dsns[0], "db:5432")
	assert.Contains(t, te.out.String(), "database is ready")
}

func TestScaffoldKeepsExistingFiles(t *testing.T) {
	te := newTestEnv(t)
	dir := t.TempDir()

	require.Equal(t, 0, te.run("scaffold", dir, "--server-command", "uvicorn app:app"))
	dockerfile, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Contains(t, string(dockerfile), `"uvicorn","app:app"`)
	assert.FileExists(t, filepath.Join(dir, ".dockerignore"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("custom"), 0644))
	te.out.Reset()
	require.Equal(t, 0, te.run("scaffold", dir))
	kept, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, "custom", string(kept))
}
