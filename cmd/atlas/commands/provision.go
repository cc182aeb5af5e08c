package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/atlas/cmd/atlas/handlers"
)

// Provision returns the command that turns a registered server into a k3s
// platform.
func Provision() *cobra.Command {
	var opts handlers.ProvisionOptions

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a registered server into a k3s platform",
		Long: `Provision a registered server: system packages, k3s with Helm,
Traefik and cert-manager, optional monitoring and ArgoCD, and the
application namespace.

Phases are idempotent; a failed run can be retried as-is.

Examples:
  # Full provisioning
  atlas provision --server 1 --domain shop.example.com

  # Minimal platform without monitoring and ArgoCD
  atlas provision --server 1 --domain shop.example.com --skip-monitoring --skip-argocd

  # Expose through a Cloudflare tunnel instead of open ports
  atlas provision --server 1 --domain shop.example.com --tunnel-token t --tunnel-account a`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = configPath(cmd)
			return handlers.Provision(cmd.Context(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.ServerID, "server", 0, "Server id to provision")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "Base domain for the platform")
	cmd.Flags().BoolVar(&opts.SkipMonitoring, "skip-monitoring", false, "Skip the monitoring stack")
	cmd.Flags().BoolVar(&opts.SkipArgocd, "skip-argocd", false, "Skip ArgoCD")
	cmd.Flags().StringVar(&opts.TunnelToken, "tunnel-token", "", "Cloudflare API token for tunnel ingress")
	cmd.Flags().StringVar(&opts.TunnelAccount, "tunnel-account", "", "Cloudflare account id for tunnel ingress")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}
