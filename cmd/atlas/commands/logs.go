package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/atlas/cmd/atlas/handlers"
)

// Logs returns the command streaming deployment logs from the cluster.
func Logs() *cobra.Command {
	var opts handlers.LogsOptions

	cmd := &cobra.Command{
		Use:   "logs <project-slug> <service>",
		Short: "Stream logs of a project service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.ProjectSlug = args[0]
			opts.Service = args[1]
			opts.Out = cmd.OutOrStdout()
			return handlers.Logs(cmd.Context(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.OrgID, "org", 0, "Organization id the project belongs to")
	cmd.Flags().IntVar(&opts.Tail, "tail", 100, "Lines of backlog to include")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "Keep the stream attached")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}
