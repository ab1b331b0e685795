// Package startup implements the container entrypoint: print the environment, source
// the optional prestart hook, run the framework's migration and static collection
// commands when the application ships a manage.py, then exec the server.
package startup

import (
	"context"
	"io"
	"path/filepath"
	"time"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/environment"
	"github.com/Azure/container-bootstrap/pkg/pipeline"
	"github.com/Azure/container-bootstrap/pkg/runner"
)

const (
	StepEnvironment   = "environment"
	StepDotEnv        = "dotenv"
	StepPrestartHook  = "prestart-hook"
	StepDatabase      = "database"
	StepMigrate       = "migrate"
	StepCollectStatic = "collectstatic"
	StepCommand       = "command"
)

type Options struct {
	AppDir            string
	Python            string
	PrestartScript    string
	ManageFile        string
	DotEnv            string
	MigrateArgs       []string
	CollectStaticArgs []string
	ShowSecrets       bool

	WaitForDatabase bool
	DatabaseTimeout time.Duration

	// Command is the server command line handed to exec once every step succeeded.
	Command []string

	Out    io.Writer
	ErrOut io.Writer
}

// DatabaseWaiter blocks until the database accepts connections.
type DatabaseWaiter interface {
	WaitReady(ctx context.Context, dsn string, timeout time.Duration) error
}

type Sequence struct {
	opts      Options
	runner    runner.CommandRunner
	launcher  runner.Launcher
	db        DatabaseWaiter
	observers []pipeline.Observer
}

func New(opts Options, r runner.CommandRunner, l runner.Launcher, db DatabaseWaiter, observers ...pipeline.Observer) *Sequence {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.ErrOut == nil {
		opts.ErrOut = opts.Out
	}
	// Child processes run inside AppDir, so paths handed to them must not be relative to it.
	if abs, err := filepath.Abs(opts.AppDir); err == nil && opts.AppDir != "" {
		opts.AppDir = abs
	}
	opts.PrestartScript = resolve(opts.AppDir, opts.PrestartScript)
	opts.ManageFile = resolve(opts.AppDir, opts.ManageFile)
	opts.DotEnv = resolve(opts.AppDir, opts.DotEnv)
	return &Sequence{
		opts:      opts,
		runner:    r,
		launcher:  l,
		db:        db,
		observers: observers,
	}
}

// Steps returns the setup steps in execution order.
func (s *Sequence) Steps() []pipeline.Step {
	return []pipeline.Step{
		&envDumpStep{out: s.opts.Out, masker: s.masker()},
		&dotEnvStep{path: s.opts.DotEnv},
		&prestartHookStep{path: s.opts.PrestartScript, dir: s.opts.AppDir, runner: s.runner, stderr: s.opts.ErrOut},
		&databaseStep{enabled: s.opts.WaitForDatabase && s.db != nil, waiter: s.db, timeout: s.opts.DatabaseTimeout},
		s.manageStep(StepMigrate, s.opts.MigrateArgs),
		s.manageStep(StepCollectStatic, s.opts.CollectStaticArgs),
		&commandStep{argv: s.opts.Command, launcher: s.launcher},
	}
}

func (s *Sequence) masker() *environment.Masker {
	if s.opts.ShowSecrets {
		return nil
	}
	return environment.NewMasker()
}

func (s *Sequence) manageStep(name string, args []string) *manageStep {
	return &manageStep{
		name:   name,
		python: s.opts.Python,
		manage: s.opts.ManageFile,
		args:   args,
		dir:    s.opts.AppDir,
		runner: s.runner,
		out:    s.opts.Out,
		errOut: s.opts.ErrOut,
	}
}

// Prepare runs every setup step against state and stops at the first failure.
func (s *Sequence) Prepare(ctx context.Context, state *pipeline.State) error {
	return pipeline.NewRunner(s.Steps(), s.opts.Out, s.observers...).Run(ctx, state)
}

// Launch execs the server with the environment accumulated in state.
func (s *Sequence) Launch(state *pipeline.State) error {
	if len(s.opts.Command) == 0 {
		return cberrors.Newf(cberrors.CodeMissingParameter, "startup", "no server command given")
	}
	if err := s.launcher.Launch(s.opts.Command, environment.List(state.Env)); err != nil {
		return cberrors.New(cberrors.CodeInternalError, "startup", "launching server", err)
	}
	return nil
}

// Run is Prepare followed by Launch. beforeLaunch, when set, runs between the two
// even if Prepare failed, so reports can be written before the process image is replaced.
// The server executable is resolved as the last step of Prepare, so a missing binary is
// already recorded as a failure when beforeLaunch runs.
func (s *Sequence) Run(ctx context.Context, state *pipeline.State, beforeLaunch func(*pipeline.State)) error {
	if len(s.opts.Command) == 0 {
		return cberrors.Newf(cberrors.CodeMissingParameter, "startup", "no server command given")
	}
	err := s.Prepare(ctx, state)
	if beforeLaunch != nil {
		beforeLaunch(state)
	}
	if err != nil {
		return err
	}
	return s.Launch(state)
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}
