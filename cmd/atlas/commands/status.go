package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/atlas/cmd/atlas/handlers"
)

// Status returns the command printing servers, projects, and recent deploys.
func Status() *cobra.Command {
	var opts handlers.StatusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show servers, projects, and recent deploys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.Out = cmd.OutOrStdout()
			return handlers.Status(cmd.Context(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.OrgID, "org", 0, "Organization id")
	cmd.Flags().IntVar(&opts.DeployLimit, "deploys", 5, "Recent deploys to show per project")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}
