// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated to
// handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the atlas CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "atlas",
		Short: "Control plane for self-hosted app platforms on k3s",
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (default: atlas.yaml)")

	cmd.AddCommand(Provision())
	cmd.AddCommand(Deploy())
	cmd.AddCommand(Status())
	cmd.AddCommand(Secrets())
	cmd.AddCommand(Logs())
	cmd.AddCommand(DNS())
	cmd.AddCommand(Version())

	return cmd
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
