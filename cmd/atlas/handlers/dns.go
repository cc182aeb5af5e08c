package handlers

import (
	"context"
	"fmt"
	"io"
)

// DNSVerifyOptions carry the dns verify command's flags.
type DNSVerifyOptions struct {
	ConfigPath string
	OrgID      int64
	Out        io.Writer
}

// DNSVerify checks the organization's Cloudflare credential against the
// provider.
func DNSVerify(ctx context.Context, opts DNSVerifyOptions) error {
	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	org, err := app.Store.GetOrg(ctx, opts.OrgID)
	if err != nil {
		return err
	}
	if org.CloudflareTokenEnc == "" {
		return fmt.Errorf("organization %d has no Cloudflare credential", opts.OrgID)
	}

	token, err := app.Cipher.DecryptString(org.CloudflareTokenEnc)
	if err != nil {
		return fmt.Errorf("decrypt Cloudflare token: %w", err)
	}

	if err := verifyDNSCredential(ctx, token, org.CloudflareAccountID); err != nil {
		return fmt.Errorf("credential rejected: %w", err)
	}
	fmt.Fprintln(opts.Out, "Cloudflare credential OK")
	return nil
}
