package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/imamik/atlas/internal/deploy"
	"github.com/imamik/atlas/internal/store"
)

// DeployOptions carry the deploy command's flags and arguments.
type DeployOptions struct {
	ConfigPath  string
	OrgID       int64
	ProjectSlug string
	Tag         string
	Services    []string
	Strict      bool
}

// Deploy triggers one deploy onto the worker pool and waits for the terminal
// status. A deploy that ends failed returns an error so the CLI exits
// non-zero.
func Deploy(ctx context.Context, opts DeployOptions) error {
	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	project, err := app.Project(ctx, opts.OrgID, opts.ProjectSlug)
	if err != nil {
		return err
	}

	pipeline := app.Pipeline()
	if opts.Strict {
		pipeline.StrictMigrations = true
	}

	row, err := pipeline.Trigger(ctx, deploy.TriggerOptions{
		ProjectID: project.ID,
		Tag:       opts.Tag,
		Services:  opts.Services,
	})
	if err != nil {
		return err
	}

	final, err := waitForDeploy(ctx, app.Store, row.ID)
	if err != nil {
		return err
	}
	if final.Status != store.DeploySuccess {
		return fmt.Errorf("deploy %d %s: %s", final.ID, final.Status, final.Meta.Error)
	}
	fmt.Printf("deploy %d succeeded (%s @ %s)\n", final.ID, opts.ProjectSlug, opts.Tag)
	return nil
}

// waitForDeploy polls until the deploy reaches a terminal status. Execution
// happens on the worker pool; the CLI only observes the row.
func waitForDeploy(ctx context.Context, st store.Store, deployID int64) (*store.Deploy, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		row, err := st.GetDeploy(ctx, deployID)
		if err != nil {
			return nil, err
		}
		if row.Status.Terminal() {
			return row, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for deploy %d: %w", deployID, ctx.Err())
		case <-ticker.C:
		}
	}
}
