package handlers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// SecretsSetOptions carry the secrets set command's flags and arguments.
type SecretsSetOptions struct {
	ConfigPath  string
	OrgID       int64
	ProjectSlug string
	Pairs       []string
	Out         io.Writer
}

// SecretsSet parses KEY=VALUE pairs, stores them encrypted, and syncs the
// project namespace.
func SecretsSet(ctx context.Context, opts SecretsSetOptions) error {
	values := make(map[string]string, len(opts.Pairs))
	for _, pair := range opts.Pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid pair %q, expected KEY=VALUE", pair)
		}
		values[key] = value
	}

	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	project, err := app.Project(ctx, opts.OrgID, opts.ProjectSlug)
	if err != nil {
		return err
	}

	res, err := app.Secrets().Set(ctx, project.ID, 0, values)
	if err != nil {
		return err
	}

	state := "synced"
	if !res.Synced {
		state = "stored, not synced (no reachable server)"
	}
	fmt.Fprintf(opts.Out, "%d secret(s) %s: %s\n", len(res.Keys), state, strings.Join(res.Keys, ", "))
	return nil
}

// SecretsRmOptions carry the secrets rm command's flags and arguments.
type SecretsRmOptions struct {
	ConfigPath  string
	OrgID       int64
	ProjectSlug string
	Key         string
	Out         io.Writer
}

// SecretsRm deletes one key from the store and the cluster.
func SecretsRm(ctx context.Context, opts SecretsRmOptions) error {
	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	project, err := app.Project(ctx, opts.OrgID, opts.ProjectSlug)
	if err != nil {
		return err
	}

	synced, err := app.Secrets().DeleteKey(ctx, project.ID, 0, opts.Key)
	if err != nil {
		return err
	}

	state := "removed"
	if !synced {
		state = "removed from store, cluster not reached"
	}
	fmt.Fprintf(opts.Out, "%s %s\n", opts.Key, state)
	return nil
}

// SecretsPullOptions carry the secrets pull command's flags and arguments.
type SecretsPullOptions struct {
	ConfigPath  string
	OrgID       int64
	ProjectSlug string
	Out         io.Writer
}

// SecretsPull prints the decrypted secrets in dotenv form.
func SecretsPull(ctx context.Context, opts SecretsPullOptions) error {
	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	project, err := app.Project(ctx, opts.OrgID, opts.ProjectSlug)
	if err != nil {
		return err
	}

	values, err := app.Secrets().Values(ctx, project.ID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(opts.Out, "%s=%s\n", key, values[key])
	}
	return nil
}
