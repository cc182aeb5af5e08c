package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/atlas/cmd/atlas/handlers"
)

// Deploy returns the command that rolls a tagged release onto a project's
// cluster.
func Deploy() *cobra.Command {
	var opts handlers.DeployOptions

	cmd := &cobra.Command{
		Use:   "deploy <project-slug> <tag>",
		Short: "Roll a tagged release onto the project's cluster",
		Long: `Roll a tagged release: run the migration job if the project has one,
update every service image, wait for rollouts, and reconcile DNS.

Examples:
  # Deploy all services of a project
  atlas deploy shop v1.4.2 --org 1

  # Deploy a subset
  atlas deploy shop v1.4.2 --org 1 --service web --service api`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.ProjectSlug = args[0]
			opts.Tag = args[1]
			return handlers.Deploy(cmd.Context(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.OrgID, "org", 0, "Organization id the project belongs to")
	cmd.Flags().StringArrayVar(&opts.Services, "service", nil, "Deploy only the named service (repeatable)")
	cmd.Flags().BoolVar(&opts.Strict, "strict-migrations", false, "Fail the deploy when the migration job cannot be applied")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}
