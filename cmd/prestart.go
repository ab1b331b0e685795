package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Azure/container-bootstrap/pkg/logger"
	"github.com/Azure/container-bootstrap/pkg/prestart"
)

func (a *app) newPrestartCmd() *cobra.Command {
	var cleanupAfter time.Duration

	c := &cobra.Command{
		Use:   "prestart",
		Short: "Create the application's runtime directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			mode, err := cfg.Prestart.FileMode()
			if err != nil {
				return err
			}
			after := cfg.Prestart.CleanupAfter.Duration
			if cmd.Flags().Changed("cleanup-after") {
				after = cleanupAfter
			}

			result, err := prestart.Run(prestart.Options{
				BaseDir:      cfg.AppDir,
				Dirs:         cfg.Prestart.Dirs,
				Mode:         mode,
				CleanupAfter: after,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range result.Created {
				fmt.Fprintf(out, "created %s\n", d)
			}
			for _, d := range result.Chmoded {
				fmt.Fprintf(out, "chmod %s %s\n", cfg.Prestart.Mode, d)
			}
			if len(result.Removed) > 0 {
				logger.Infof("Removed %d file(s) older than %s", len(result.Removed), after)
			}
			logger.Info("Prestart completed")
			return nil
		},
	}
	c.Flags().DurationVar(&cleanupAfter, "cleanup-after", 0, "Remove files older than this from the directories (0 disables)")
	return c
}
