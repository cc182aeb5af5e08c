package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/atlas/internal/provisioning"
)

// ProvisionOptions carry the provision command's flags.
type ProvisionOptions struct {
	ConfigPath     string
	ServerID       int64
	Domain         string
	SkipMonitoring bool
	SkipArgocd     bool
	TunnelToken    string
	TunnelAccount  string
}

// Provision runs the provisioning state machine for one server and blocks
// until it reaches a terminal state.
func Provision(ctx context.Context, opts ProvisionOptions) error {
	if opts.TunnelToken != "" && opts.TunnelAccount == "" {
		return fmt.Errorf("--tunnel-account is required with --tunnel-token")
	}

	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	provOpts := provisioning.Options{
		ServerID: opts.ServerID,
		Domain:   opts.Domain,
		PhaseOptions: provisioning.PhaseOptions{
			SkipMonitoring: opts.SkipMonitoring,
			SkipArgocd:     opts.SkipArgocd,
		},
	}
	if opts.TunnelToken != "" {
		provOpts.Tunnel = &provisioning.TunnelOptions{
			Token:     opts.TunnelToken,
			AccountID: opts.TunnelAccount,
		}
	}

	provisioner := provisioning.NewProvisioner(app.Store, app.Cipher, app.Dial, app.Audit, nil, app.Log)
	return provisioner.Provision(ctx, provOpts, provisioning.NewConsoleObserver())
}
