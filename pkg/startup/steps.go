package startup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/common/filesystem"
	"github.com/Azure/container-bootstrap/pkg/dbcheck"
	"github.com/Azure/container-bootstrap/pkg/environment"
	"github.com/Azure/container-bootstrap/pkg/logger"
	"github.com/Azure/container-bootstrap/pkg/pipeline"
	"github.com/Azure/container-bootstrap/pkg/runner"
)

type envDumpStep struct {
	out    io.Writer
	masker *environment.Masker
}

func (s *envDumpStep) Name() string { return StepEnvironment }

func (s *envDumpStep) Applies(context.Context, *pipeline.State) (bool, string) { return true, "" }

func (s *envDumpStep) Run(_ context.Context, state *pipeline.State) error {
	if err := environment.Dump(s.out, state.Env, s.masker); err != nil {
		return err
	}
	_, err := fmt.Fprintln(s.out, environment.DescribeDatabaseURL(state.Env))
	return err
}

type dotEnvStep struct {
	path string
}

func (s *dotEnvStep) Name() string { return StepDotEnv }

func (s *dotEnvStep) Applies(context.Context, *pipeline.State) (bool, string) {
	if s.path == "" || !filesystem.IsRegularFile(s.path) {
		return false, fmt.Sprintf("%s not found", s.path)
	}
	return true, ""
}

func (s *dotEnvStep) Run(_ context.Context, state *pipeline.State) error {
	vars, err := godotenv.Read(s.path)
	if err != nil {
		return cberrors.New(cberrors.CodeConfigurationInvalid, "startup", fmt.Sprintf("reading %s", s.path), err)
	}
	written := environment.Merge(state.Env, vars, false)
	logger.Debugf("Loaded %d variable(s) from %s", len(written), s.path)
	return nil
}

// prestartHookStep sources the hook in a shell and adopts the environment the shell
// ends with, which is what `. prestart.sh` does inside an entrypoint script. The hook's
// own stdout goes to stderr so that it cannot corrupt the `env -0` dump.
type prestartHookStep struct {
	path   string
	dir    string
	runner runner.CommandRunner
	stderr io.Writer
}

const sourceScript = `. "$0" >&2 && env -0`

func (s *prestartHookStep) Name() string { return StepPrestartHook }

func (s *prestartHookStep) Applies(context.Context, *pipeline.State) (bool, string) {
	if s.path == "" || !filesystem.IsRegularFile(s.path) {
		return false, fmt.Sprintf("%s not found", s.path)
	}
	return true, ""
}

func (s *prestartHookStep) Run(ctx context.Context, state *pipeline.State) error {
	var stdout bytes.Buffer
	err := s.runner.Run(ctx, runner.Command{
		Args:   []string{"sh", "-c", sourceScript, s.path},
		Dir:    s.dir,
		Env:    environment.List(state.Env),
		Stdout: &stdout,
		Stderr: s.stderr,
	})
	if err != nil {
		return cberrors.New(cberrors.CodeCommandFailed, "startup", fmt.Sprintf("sourcing %s", s.path), err)
	}
	if env := environment.ParseNull(stdout.Bytes()); len(env) > 0 {
		state.Env = env
	}
	return nil
}

type databaseStep struct {
	enabled bool
	waiter  DatabaseWaiter
	timeout time.Duration
}

func (s *databaseStep) Name() string { return StepDatabase }

func (s *databaseStep) Applies(_ context.Context, state *pipeline.State) (bool, string) {
	if !s.enabled {
		return false, "database wait disabled"
	}
	cfg := dbcheck.ConfigFromEnv(state.Env)
	if !cfg.Configured() {
		return false, "neither DATABASE_URL nor PGHOST is set"
	}
	if !cfg.Postgres() {
		return false, "DATABASE_URL is not a PostgreSQL URL"
	}
	return true, ""
}

func (s *databaseStep) Run(ctx context.Context, state *pipeline.State) error {
	dsn, err := dbcheck.ConfigFromEnv(state.Env).DSN()
	if err != nil {
		return cberrors.New(cberrors.CodeConfigurationInvalid, "startup", "database settings", err)
	}
	return s.waiter.WaitReady(ctx, dsn, s.timeout)
}

// manageStep runs `<python> manage.py <args...>` in the application directory.
type manageStep struct {
	name   string
	python string
	manage string
	args   []string
	dir    string
	runner runner.CommandRunner
	out    io.Writer
	errOut io.Writer
}

func (s *manageStep) Name() string { return s.name }

func (s *manageStep) Applies(context.Context, *pipeline.State) (bool, string) {
	if len(s.args) == 0 {
		return false, "no arguments configured"
	}
	if s.manage == "" || !filesystem.IsRegularFile(s.manage) {
		return false, fmt.Sprintf("%s not found", s.manage)
	}
	return true, ""
}

func (s *manageStep) Run(ctx context.Context, state *pipeline.State) error {
	args := append([]string{s.python, s.manage}, s.args...)
	err := s.runner.Run(ctx, runner.Command{
		Args:   args,
		Dir:    s.dir,
		Env:    environment.List(state.Env),
		Stdout: s.out,
		Stderr: s.errOut,
	})
	if err != nil {
		return cberrors.New(cberrors.CodeCommandFailed, "startup", s.name, err)
	}
	return nil
}

// commandStep resolves the server executable on PATH before the run is reported.
type commandStep struct {
	argv     []string
	launcher runner.Launcher
}

func (s *commandStep) Name() string { return StepCommand }

func (s *commandStep) Applies(context.Context, *pipeline.State) (bool, string) { return true, "" }

func (s *commandStep) Run(_ context.Context, state *pipeline.State) error {
	if len(s.argv) == 0 {
		return cberrors.Newf(cberrors.CodeMissingParameter, "startup", "no server command given")
	}
	path, err := s.launcher.LookPath(s.argv[0])
	if err != nil {
		return cberrors.New(cberrors.CodeFileNotFound, "startup", fmt.Sprintf("resolving %q", s.argv[0]), err)
	}
	state.Metadata["command_path"] = path
	return nil
}
