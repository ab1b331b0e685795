package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Azure/container-bootstrap/pkg/docker"
)

func (a *app) newScaffoldCmd() *cobra.Command {
	opts := docker.DefaultScaffoldOptions()
	var serverCommand string

	c := &cobra.Command{
		Use:   "scaffold [dir]",
		Short: "Write a Dockerfile and .dockerignore that use container-bootstrap",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.AppDir
			if len(args) == 1 {
				dir = args[0]
			}
			if serverCommand != "" {
				opts.ServerCommand = strings.Fields(serverCommand)
			}
			if !cmd.Flags().Changed("package-variant") {
				opts.PackageVariant = a.cfg.Package.Variant
			}

			written, err := docker.WriteScaffold(dir, opts)
			if err != nil {
				return err
			}
			for _, name := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
			}
			return nil
		},
	}
	variants, _ := docker.Variants()
	c.Flags().StringVar(&opts.Variant, "variant", opts.Variant, fmt.Sprintf("Template set (%s)", strings.Join(variants, ", ")))
	c.Flags().StringVar(&opts.PythonVersion, "python-version", opts.PythonVersion, "Python base image version")
	c.Flags().StringVar(&opts.BinarySource, "binary", opts.BinarySource, "Path of the container-bootstrap binary in the build context")
	c.Flags().IntVar(&opts.Port, "port", opts.Port, "Port the server listens on")
	c.Flags().StringVar(&serverCommand, "server-command", "", "Default server command (space separated)")
	c.Flags().StringVar(&opts.PackageVariant, "package-variant", opts.PackageVariant, "Variant passed to 'package' in serverless images")
	c.Flags().BoolVar(&opts.Force, "force", false, "Overwrite existing files")
	return c
}
