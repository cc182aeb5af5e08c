package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/atlas/cmd/atlas/handlers"
)

// Secrets returns the secret management command group.
func Secrets() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage project secrets",
	}
	cmd.AddCommand(secretsSet())
	cmd.AddCommand(secretsRm())
	cmd.AddCommand(secretsPull())
	return cmd
}

func secretsSet() *cobra.Command {
	var opts handlers.SecretsSetOptions

	cmd := &cobra.Command{
		Use:   "set <project-slug> KEY=VALUE [KEY=VALUE...]",
		Short: "Set secrets and sync them into the cluster",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.ProjectSlug = args[0]
			opts.Pairs = args[1:]
			opts.Out = cmd.OutOrStdout()
			return handlers.SecretsSet(cmd.Context(), opts)
		},
	}
	cmd.Flags().Int64Var(&opts.OrgID, "org", 0, "Organization id the project belongs to")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func secretsRm() *cobra.Command {
	var opts handlers.SecretsRmOptions

	cmd := &cobra.Command{
		Use:   "rm <project-slug> <key>",
		Short: "Delete a secret key from the store and the cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.ProjectSlug = args[0]
			opts.Key = args[1]
			opts.Out = cmd.OutOrStdout()
			return handlers.SecretsRm(cmd.Context(), opts)
		},
	}
	cmd.Flags().Int64Var(&opts.OrgID, "org", 0, "Organization id the project belongs to")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func secretsPull() *cobra.Command {
	var opts handlers.SecretsPullOptions

	cmd := &cobra.Command{
		Use:   "pull <project-slug>",
		Short: "Print decrypted secrets in dotenv form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.ProjectSlug = args[0]
			opts.Out = cmd.OutOrStdout()
			return handlers.SecretsPull(cmd.Context(), opts)
		},
	}
	cmd.Flags().Int64Var(&opts.OrgID, "org", 0, "Organization id the project belongs to")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
