package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Azure/container-bootstrap/pkg/common/filesystem"
	"github.com/Azure/container-bootstrap/pkg/logger"
	"github.com/Azure/container-bootstrap/pkg/packager"
)

type packageFlags struct {
	requirements string
	target       string
	variant      string
	exclude      []string
	treeDepth    int
}

func (a *app) newPackageCmd() *cobra.Command {
	var f packageFlags

	c := &cobra.Command{
		Use:   "package",
		Short: "Install requirements into a directory and prune it for deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			variant, err := packager.ParseVariant(getFirstNonEmpty(f.variant, cfg.Package.Variant))
			if err != nil {
				return err
			}
			target := cfg.Resolve(getFirstNonEmpty(f.target, cfg.Package.Target))

			p := packager.New(a.deps.runner, packager.Options{
				Requirements:  cfg.Resolve(getFirstNonEmpty(f.requirements, cfg.Package.Requirements)),
				Target:        target,
				Python:        cfg.Python,
				Variant:       variant,
				ExtraPatterns: append(append([]string{}, cfg.Package.ExtraPatterns...), f.exclude...),
				Out:           cmd.OutOrStdout(),
			})
			report, err := p.Build(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())

			if f.treeDepth > 0 {
				tree, err := filesystem.Tree(target, f.treeDepth)
				if err != nil {
					logger.Warnf("Could not list %s: %v", target, err)
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), tree)
			}
			return nil
		},
	}
	c.Flags().StringVarP(&f.requirements, "requirements", "r", "", "Requirements file (default requirements.txt)")
	c.Flags().StringVarP(&f.target, "target", "t", "", "Target directory (default package)")
	c.Flags().StringVar(&f.variant, "variant", "", "Package variant: slim or compiled")
	c.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Additional gitignore-style prune patterns")
	c.Flags().IntVar(&f.treeDepth, "tree", 0, "Print the resulting tree up to this depth")
	return c
}
