package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/config"
	"github.com/Azure/container-bootstrap/pkg/dbcheck"
	"github.com/Azure/container-bootstrap/pkg/logger"
	"github.com/Azure/container-bootstrap/pkg/runner"
)

// Build-time variables set via ldflags
var (
	// Version is the semantic version of the application
	Version = "dev"
	// GitCommit is the git commit SHA at build time
	GitCommit = "unknown"
	// BuildTime is the time of the build
	BuildTime = "unknown"
)

func getVersion() string {
	if Version == "dev" {
		return fmt.Sprintf("dev (commit: %s)", GitCommit)
	}
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

// deps are the side-effecting collaborators of every command; tests replace them.
type deps struct {
	runner    runner.CommandRunner
	launcher  runner.Launcher
	prober    dbcheck.Prober
	environ   func() []string
	lookupEnv func(string) (string, bool)
}

func defaultDeps() *deps {
	return &deps{
		runner:    &runner.DefaultCommandRunner{},
		launcher:  runner.ProcessLauncher{},
		prober:    dbcheck.PgxProber{},
		environ:   os.Environ,
		lookupEnv: os.LookupEnv,
	}
}

// globalFlags are the persistent flags shared by all subcommands.
type globalFlags struct {
	configPath string
	appDir     string
	python     string
	logLevel   string
}

type app struct {
	deps  *deps
	flags globalFlags
	cfg   *config.Config
}

func newRootCmd(d *deps) *cobra.Command {
	a := &app{deps: d}

	rootCmd := &cobra.Command{
		Use:           "container-bootstrap",
		Short:         "Container entrypoint, prestart provisioning and dependency packaging for Python web apps",
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "Path to the configuration file (default <app-dir>/bootstrap.yaml)")
	pf.StringVar(&a.flags.appDir, "app-dir", "", "Application directory (default /app)")
	pf.StringVar(&a.flags.python, "python", "", "Python interpreter used for manage.py, pip and compileall")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		a.newEntrypointCmd(),
		a.newPrestartCmd(),
		a.newPackageCmd(),
		a.newDBCheckCmd(),
		a.newEnvCmd(),
		a.newScaffoldCmd(),
	)
	return rootCmd
}

// loadConfig resolves flag > environment > file > defaults and configures logging.
func (a *app) loadConfig() error {
	lookup := a.deps.lookupEnv
	if a.flags.appDir != "" {
		// --app-dir also decides where the default config file is looked up.
		lookup = func(key string) (string, bool) {
			if key == "BOOTSTRAP_APP_DIR" {
				return a.flags.appDir, true
			}
			return a.deps.lookupEnv(key)
		}
	}
	cfg, err := config.Load(a.flags.configPath, lookup)
	if err != nil {
		return err
	}
	if a.flags.python != "" {
		cfg.Python = a.flags.python
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Configure(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Resolve(cfg.Log.File),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return cberrors.New(cberrors.CodeConfigurationInvalid, "config", "logging", err)
	}
	a.cfg = cfg
	return nil
}

// run executes the command tree and maps the outcome to a process exit code.
func run(ctx context.Context, rootCmd *cobra.Command, args []string, errOut io.Writer) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	logger.Errorf("%v", err)
	printFailureHelp(errOut, err)
	return cberrors.ExitCode(err)
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, newRootCmd(defaultDeps()), os.Args[1:], os.Stderr)
}
