package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/atlas/cmd/atlas/handlers"
)

// DNS returns the DNS command group.
func DNS() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "DNS provider operations",
	}
	cmd.AddCommand(dnsVerify())
	return cmd
}

func dnsVerify() *cobra.Command {
	var opts handlers.DNSVerifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the organization's Cloudflare credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.Out = cmd.OutOrStdout()
			return handlers.DNSVerify(cmd.Context(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.OrgID, "org", 0, "Organization id")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}
