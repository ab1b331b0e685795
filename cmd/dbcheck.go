package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/dbcheck"
	"github.com/Azure/container-bootstrap/pkg/environment"
)

func (a *app) newDBCheckCmd() *cobra.Command {
	var timeout time.Duration

	c := &cobra.Command{
		Use:   "dbcheck",
		Short: "Wait until the configured PostgreSQL database accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			dbCfg := dbcheck.ConfigFromEnv(environment.Parse(a.deps.environ()))
			if !dbCfg.Configured() {
				return cberrors.Newf(cberrors.CodeMissingParameter, "dbcheck", "neither DATABASE_URL nor PGHOST is set")
			}
			if !dbCfg.Postgres() {
				return cberrors.Newf(cberrors.CodeInvalidParameter, "dbcheck", "DATABASE_URL is not a PostgreSQL URL")
			}
			dsn, err := dbCfg.DSN()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.Database.Timeout.Duration
			}

			w := &dbcheck.Waiter{Prober: a.deps.prober, Interval: cfg.Database.Interval.Duration}
			if err := w.WaitReady(cmd.Context(), dsn, timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database is ready")
			return nil
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait (default database.timeout)")
	return c
}
