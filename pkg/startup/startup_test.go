package startup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/environment"
	"github.com/Azure/container-bootstrap/pkg/pipeline"
	"github.com/Azure/container-bootstrap/pkg/runner"
)

type fakeWaiter struct {
	dsn   string
	calls int
	err   error
}

func (f *fakeWaiter) WaitReady(_ context.Context, dsn string, _ time.Duration) error {
	f.calls++
	f.dsn = dsn
	return f.err
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
}

func defaultOptions(appDir string, out *bytes.Buffer) Options {
	return Options{
		AppDir:            appDir,
		Python:            "python",
		PrestartScript:    "prestart.sh",
		ManageFile:        "manage.py",
		DotEnv:            ".env",
		MigrateArgs:       []string{"migrate", "--noinput"},
		CollectStaticArgs: []string{"collectstatic", "--noinput"},
		DatabaseTimeout:   time.Second,
		Command:           []string{"gunicorn", "app.wsgi"},
		Out:               out,
	}
}

func outcomes(state *pipeline.State) map[string]pipeline.StepOutcome {
	m := make(map[string]pipeline.StepOutcome)
	for _, v := range state.StepHistory {
		m[v.StepID] = v.Outcome
	}
	return m
}

func TestRunWithoutOptionalFiles(t *testing.T) {
	appDir := t.TempDir()
	var out bytes.Buffer
	r := &runner.FakeCommandRunner{}
	l := &runner.FakeLauncher{}

	state := pipeline.NewState(map[string]string{"HOME": "/root", "PGPASSWORD": "hunter2"})
	require.NoError(t, New(defaultOptions(appDir, &out), r, l, nil).Run(context.Background(), state, nil))

	assert.Empty(t, r.Calls)
	assert.True(t, l.Launched)
	assert.Equal(t, []string{"gunicorn", "app.wsgi"}, l.Argv)
	assert.Equal(t, []string{"HOME=/root", "PGPASSWORD=hunter2"}, l.Env)

	assert.Equal(t, map[string]pipeline.StepOutcome{
		StepEnvironment:   pipeline.StepOutcomeSuccess,
		StepDotEnv:        pipeline.StepOutcomeSkipped,
		StepPrestartHook:  pipeline.StepOutcomeSkipped,
		StepDatabase:      pipeline.StepOutcomeSkipped,
		StepMigrate:       pipeline.StepOutcomeSkipped,
		StepCollectStatic: pipeline.StepOutcomeSkipped,
		StepCommand:       pipeline.StepOutcomeSuccess,
	}, outcomes(state))

	assert.Contains(t, out.String(), "HOME=/root\n")
	assert.Contains(t, out.String(), "PGPASSWORD="+environment.Masked+"\n")
	assert.Contains(t, out.String(), "DATABASE_URL is not set\n")
}

func TestRunMigratesAndCollectsStatic(t *testing.T) {
	appDir := t.TempDir()
	manage := filepath.Join(appDir, "manage.py")
	touch(t, manage, "")

	var out bytes.Buffer
	r := &runner.FakeCommandRunner{}
	l := &runner.FakeLauncher{}
	state := pipeline.NewState(map[string]string{"DATABASE_URL": "postgres://u:p@db/app"})

	require.NoError(t, New(defaultOptions(appDir, &out), r, l, nil).Run(context.Background(), state, nil))

	assert.Equal(t, []string{
		"python " + manage + " migrate --noinput",
		"python " + manage + " collectstatic --noinput",
	}, r.Invoked())
	for _, c := range r.Calls {
		assert.Equal(t, appDir, c.Dir)
		assert.Contains(t, c.Env, "DATABASE_URL=postgres://u:p@db/app")
	}
	assert.True(t, l.Launched)
	assert.Contains(t, out.String(), "DATABASE_URL=postgres://u:"+environment.Masked+"@db/app\n")
	assert.Contains(t, out.String(), "DATABASE_URL is set\n")
}

func TestFailingMigrationPreventsLaunch(t *testing.T) {
	appDir := t.TempDir()
	touch(t, filepath.Join(appDir, "manage.py"), "")

	r := &runner.FakeCommandRunner{FailOn: "migrate", ExitCode: 3}
	l := &runner.FakeLauncher{}
	state := pipeline.NewState(nil)

	var hookState *pipeline.State
	err := New(defaultOptions(appDir, &bytes.Buffer{}), r, l, nil).Run(context.Background(), state, func(s *pipeline.State) { hookState = s })
	require.Error(t, err)

	assert.False(t, l.Launched)
	assert.Equal(t, 3, cberrors.ExitCode(err))
	assert.Len(t, r.Calls, 1, "collectstatic must not run after a failed migration")
	assert.Same(t, state, hookState)
	assert.Equal(t, pipeline.StepOutcomeFailure, outcomes(state)[StepMigrate])
}

func TestMissingServerBinaryFailsBeforeReport(t *testing.T) {
	l := &runner.FakeLauncher{LookPathErr: exec.ErrNotFound}
	state := pipeline.NewState(nil)

	var report *pipeline.RunReport
	err := New(defaultOptions(t.TempDir(), &bytes.Buffer{}), &runner.FakeCommandRunner{}, l, nil).Run(context.Background(), state, func(s *pipeline.State) {
		report = pipeline.NewReport(context.Background(), s, "entrypoint")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)

	assert.False(t, l.Launched)
	require.NotNil(t, report)
	assert.Equal(t, pipeline.RunOutcomeFailure, report.Outcome)
	assert.Equal(t, StepCommand, report.FailedStepID)
	step, ok := pipeline.FailedStep(err)
	assert.True(t, ok)
	assert.Equal(t, StepCommand, step)
}

func TestPrestartHookEnvironmentReachesServer(t *testing.T) {
	appDir := t.TempDir()
	hook := filepath.Join(appDir, "prestart.sh")
	touch(t, hook, "export FROM_HOOK=1\n")

	r := &runner.FakeCommandRunner{Output: "PATH=/usr/bin\x00FROM_HOOK=1\x00"}
	l := &runner.FakeLauncher{}
	state := pipeline.NewState(map[string]string{"PATH": "/usr/bin"})

	require.NoError(t, New(defaultOptions(appDir, &bytes.Buffer{}), r, l, nil).Run(context.Background(), state, nil))

	require.Len(t, r.Calls, 1)
	assert.Equal(t, []string{"sh", "-c", sourceScript, hook}, r.Calls[0].Args)
	assert.Equal(t, []string{"FROM_HOOK=1", "PATH=/usr/bin"}, l.Env)
}

func TestFailingPrestartHookAborts(t *testing.T) {
	appDir := t.TempDir()
	touch(t, filepath.Join(appDir, "prestart.sh"), "exit 4\n")
	touch(t, filepath.Join(appDir, "manage.py"), "")

	r := &runner.FakeCommandRunner{ExitCode: 4}
	l := &runner.FakeLauncher{}

	err := New(defaultOptions(appDir, &bytes.Buffer{}), r, l, nil).Run(context.Background(), pipeline.NewState(nil), nil)
	assert.Equal(t, 4, cberrors.ExitCode(err))
	assert.Len(t, r.Calls, 1)
	assert.False(t, l.Launched)
}

func TestPrestartHookWithRealShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	if _, err := exec.LookPath("env"); err != nil {
		t.Skip("env not available")
	}
	appDir := t.TempDir()
	touch(t, filepath.Join(appDir, "prestart.sh"), "mkdir -p uploads\necho provisioning\nexport UPLOAD_DIR=\"$PWD/uploads\"\n")

	var out bytes.Buffer
	l := &runner.FakeLauncher{}
	state := pipeline.NewState(map[string]string{"PATH": os.Getenv("PATH")})

	require.NoError(t, New(defaultOptions(appDir, &out), &runner.DefaultCommandRunner{}, l, nil).Run(context.Background(), state, nil))

	assert.DirExists(t, filepath.Join(appDir, "uploads"))
	assert.Contains(t, out.String(), "provisioning\n")
	assert.NotEmpty(t, state.Env["UPLOAD_DIR"])
	assert.Contains(t, l.Env, "UPLOAD_DIR="+state.Env["UPLOAD_DIR"])
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })
}

func TestRelativeAppDirIsResolved(t *testing.T) {
	parent := t.TempDir()
	appDir := filepath.Join(parent, "myapp")
	require.NoError(t, os.Mkdir(appDir, 0755))
	touch(t, filepath.Join(appDir, "prestart.sh"), "export FROM_HOOK=1\n")
	touch(t, filepath.Join(appDir, "manage.py"), "")
	chdir(t, parent)
	// TempDir may sit behind a symlink; compare against what the process sees.
	wd, err := os.Getwd()
	require.NoError(t, err)
	want := filepath.Join(wd, "myapp")

	for _, rel := range []string{"myapp", "./myapp"} {
		t.Run(rel, func(t *testing.T) {
			r := &runner.FakeCommandRunner{}
			l := &runner.FakeLauncher{}
			require.NoError(t, New(defaultOptions(rel, &bytes.Buffer{}), r, l, nil).Run(context.Background(), pipeline.NewState(nil), nil))

			require.Len(t, r.Calls, 3)
			assert.Equal(t, []string{"sh", "-c", sourceScript, filepath.Join(want, "prestart.sh")}, r.Calls[0].Args)
			for _, c := range r.Calls {
				assert.Equal(t, want, c.Dir)
			}
			assert.Equal(t, "python "+filepath.Join(want, "manage.py")+" migrate --noinput", r.Calls[1].String())
			assert.True(t, l.Launched)
		})
	}
}

func TestDotAppDirSourcesHookFromWorkingDirectory(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	if _, err := exec.LookPath("env"); err != nil {
		t.Skip("env not available")
	}
	appDir := t.TempDir()
	touch(t, filepath.Join(appDir, "prestart.sh"), "export FROM_HOOK=1\n")
	chdir(t, appDir)

	l := &runner.FakeLauncher{}
	state := pipeline.NewState(map[string]string{"PATH": os.Getenv("PATH")})
	require.NoError(t, New(defaultOptions(".", &bytes.Buffer{}), &runner.DefaultCommandRunner{}, l, nil).Run(context.Background(), state, nil))

	assert.Equal(t, pipeline.StepOutcomeSuccess, outcomes(state)[StepPrestartHook])
	assert.Contains(t, l.Env, "FROM_HOOK=1")
}

func TestDotEnvDoesNotOverrideProcessEnvironment(t *testing.T) {
	appDir := t.TempDir()
	touch(t, filepath.Join(appDir, ".env"), "SECRET_KEY=from-file\nDEBUG=true\n")

	l := &runner.FakeLauncher{}
	state := pipeline.NewState(map[string]string{"SECRET_KEY": "from-process"})

	require.NoError(t, New(defaultOptions(appDir, &bytes.Buffer{}), &runner.FakeCommandRunner{}, l, nil).Run(context.Background(), state, nil))
	assert.Equal(t, []string{"DEBUG=true", "SECRET_KEY=from-process"}, l.Env)
}

func TestDatabaseWait(t *testing.T) {
	appDir := t.TempDir()
	opts := defaultOptions(appDir, &bytes.Buffer{})
	opts.WaitForDatabase = true

	w := &fakeWaiter{}
	state := pipeline.NewState(map[string]string{"PGHOST": "db", "PGUSER": "app"})
	require.NoError(t, New(opts, &runner.FakeCommandRunner{}, &runner.FakeLauncher{}, w).Run(context.Background(), state, nil))
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, "postgres://app@db:5432/app", w.dsn)

	w = &fakeWaiter{err: errors.New("database not ready")}
	l := &runner.FakeLauncher{}
	err := New(opts, &runner.FakeCommandRunner{}, l, w).Run(context.Background(), pipeline.NewState(map[string]string{"DATABASE_URL": "postgres://db/app"}), nil)
	assert.Error(t, err)
	assert.False(t, l.Launched)

	w = &fakeWaiter{}
	require.NoError(t, New(opts, &runner.FakeCommandRunner{}, &runner.FakeLauncher{}, w).Run(context.Background(), pipeline.NewState(nil), nil))
	assert.Zero(t, w.calls, "no database configured")
}

func TestDatabaseWaitSkipsNonPostgresURL(t *testing.T) {
	opts := defaultOptions(t.TempDir(), &bytes.Buffer{})
	opts.WaitForDatabase = true

	w := &fakeWaiter{}
	l := &runner.FakeLauncher{}
	state := pipeline.NewState(map[string]string{"DATABASE_URL": "sqlite:////app/db.sqlite3"})
	require.NoError(t, New(opts, &runner.FakeCommandRunner{}, l, w).Run(context.Background(), state, nil))

	assert.Zero(t, w.calls)
	assert.True(t, l.Launched)
	visit, ok := state.Visit(StepDatabase)
	require.True(t, ok)
	assert.Equal(t, pipeline.StepOutcomeSkipped, visit.Outcome)
	assert.Equal(t, "DATABASE_URL is not a PostgreSQL URL", visit.Reason)
}

func TestRunRequiresCommand(t *testing.T) {
	opts := defaultOptions(t.TempDir(), &bytes.Buffer{})
	opts.Command = nil
	state := pipeline.NewState(nil)

	err := New(opts, &runner.FakeCommandRunner{}, &runner.FakeLauncher{}, nil).Run(context.Background(), state, nil)
	assert.True(t, cberrors.HasCode(err, cberrors.CodeMissingParameter))
	assert.Empty(t, state.StepHistory)
}

func TestShowSecrets(t *testing.T) {
	var out bytes.Buffer
	opts := defaultOptions(t.TempDir(), &out)
	opts.ShowSecrets = true

	state := pipeline.NewState(map[string]string{"API_KEY": "abc"})
	require.NoError(t, New(opts, &runner.FakeCommandRunner{}, &runner.FakeLauncher{}, nil).Prepare(context.Background(), state))
	assert.Contains(t, out.String(), "API_KEY=abc\n")
}
