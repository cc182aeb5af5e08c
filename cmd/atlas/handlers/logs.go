package handlers

import (
	"context"
	"io"

	"github.com/imamik/atlas/internal/platform/kube"
)

// LogsOptions carry the logs command's flags and arguments.
type LogsOptions struct {
	ConfigPath  string
	OrgID       int64
	ProjectSlug string
	Service     string
	Tail        int
	Follow      bool
	Out         io.Writer
}

// Logs streams a deployment's combined container logs to the terminal.
func Logs(ctx context.Context, opts LogsOptions) error {
	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	project, err := app.Project(ctx, opts.OrgID, opts.ProjectSlug)
	if err != nil {
		return err
	}
	server, err := app.ProjectServer(ctx, project)
	if err != nil {
		return err
	}

	cluster, err := app.Cluster(server.Host)
	if err != nil {
		return err
	}
	defer func() { _ = cluster.Close() }()

	stream, err := cluster.StreamLogs(ctx, project.Slug, opts.Service, kube.LogOptions{
		Tail:   opts.Tail,
		Follow: opts.Follow,
	})
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	_, err = io.Copy(opts.Out, stream)
	return err
}
