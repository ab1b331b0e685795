package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Azure/container-bootstrap/pkg/environment"
)

func (a *app) newEnvCmd() *cobra.Command {
	var showSecrets bool

	c := &cobra.Command{
		Use:   "env",
		Short: "Print the environment sorted by key with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := environment.Parse(a.deps.environ())
			var masker *environment.Masker
			if !showSecrets && !a.cfg.Entrypoint.ShowSecrets {
				masker = environment.NewMasker()
			}
			out := cmd.OutOrStdout()
			if err := environment.Dump(out, env, masker); err != nil {
				return err
			}
			fmt.Fprintln(out, environment.DescribeDatabaseURL(env))
			return nil
		},
	}
	c.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print sensitive values unmasked")
	return c
}
