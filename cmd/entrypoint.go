package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Azure/container-bootstrap/pkg/dbcheck"
	"github.com/Azure/container-bootstrap/pkg/environment"
	"github.com/Azure/container-bootstrap/pkg/logger"
	"github.com/Azure/container-bootstrap/pkg/pipeline"
	"github.com/Azure/container-bootstrap/pkg/startup"
)

type entrypointFlags struct {
	showSecrets     bool
	waitForDB       bool
	reportDir       string
	metricsTextfile string
}

func (a *app) newEntrypointCmd() *cobra.Command {
	var f entrypointFlags

	c := &cobra.Command{
		Use:   "entrypoint -- COMMAND [ARGS...]",
		Short: "Prepare the application and exec the server",
		Long: `Prints the environment, sources prestart.sh when present, runs the
migrate and collectstatic management commands when manage.py is present and
finally replaces itself with COMMAND.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEntrypoint(cmd, args, f)
		},
	}
	c.Flags().SetInterspersed(false)
	c.Flags().BoolVar(&f.showSecrets, "show-secrets", false, "Print sensitive environment values unmasked")
	c.Flags().BoolVar(&f.waitForDB, "wait-for-db", false, "Wait for the database before migrating")
	c.Flags().StringVar(&f.reportDir, "report-dir", "", "Write a run report under this directory")
	c.Flags().StringVar(&f.metricsTextfile, "metrics-textfile", "", "Write step metrics to this Prometheus textfile")
	return c
}

func (a *app) runEntrypoint(cmd *cobra.Command, args []string, f entrypointFlags) error {
	cfg := a.cfg
	ep := cfg.Entrypoint
	showSecrets := ep.ShowSecrets || f.showSecrets
	waitForDB := cfg.Database.Wait || f.waitForDB
	reportDir := getFirstNonEmpty(f.reportDir, ep.ReportDir)
	textfile := getFirstNonEmpty(f.metricsTextfile, cfg.Metrics.Textfile)

	var observers []pipeline.Observer
	var metrics *pipeline.Metrics
	if textfile != "" {
		metrics = pipeline.NewMetrics("entrypoint")
		observers = append(observers, metrics)
	}

	seq := startup.New(startup.Options{
		AppDir:            cfg.AppDir,
		Python:            cfg.Python,
		PrestartScript:    ep.PrestartScript,
		ManageFile:        ep.ManageFile,
		DotEnv:            ep.DotEnv,
		MigrateArgs:       ep.MigrateArgs,
		CollectStaticArgs: ep.CollectStaticArgs,
		ShowSecrets:       showSecrets,
		WaitForDatabase:   waitForDB,
		DatabaseTimeout:   cfg.Database.Timeout.Duration,
		Command:           args,
		Out:               cmd.OutOrStdout(),
		ErrOut:            cmd.ErrOrStderr(),
	}, a.deps.runner, a.deps.launcher, &dbcheck.Waiter{
		Prober:   a.deps.prober,
		Interval: cfg.Database.Interval.Duration,
	}, observers...)

	ctx := cmd.Context()
	state := pipeline.NewState(environment.Parse(a.deps.environ()))
	logger.Debugf("Starting entrypoint run %s for %v", state.RunID, args)

	return seq.Run(ctx, state, func(state *pipeline.State) {
		if reportDir != "" {
			if err := pipeline.WriteReport(ctx, state, "entrypoint", cfg.Resolve(reportDir)); err != nil {
				logger.Warnf("Failed to write run report: %v", err)
			}
		}
		if metrics != nil {
			metrics.Finish(state)
			if err := metrics.WriteTextfile(cfg.Resolve(textfile)); err != nil {
				logger.Warnf("Failed to write metrics textfile: %v", err)
			}
		}
	})
}

func getFirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
