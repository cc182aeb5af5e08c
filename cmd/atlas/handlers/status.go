package handlers

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// StatusOptions carry the status command's flags.
type StatusOptions struct {
	ConfigPath  string
	OrgID       int64
	DeployLimit int
	Out         io.Writer
}

// Status prints the organization's servers, projects, and recent deploys.
func Status(ctx context.Context, opts StatusOptions) error {
	app, err := buildApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer app.Close()

	servers, err := app.Store.ListServersByOrg(ctx, opts.OrgID)
	if err != nil {
		return err
	}
	projects, err := app.Store.ListProjectsByOrg(ctx, opts.OrgID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(opts.Out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "SERVER\tHOST\tIP\tSTATUS")
	for _, s := range servers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Host, s.IP, s.Status)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "PROJECT\tDOMAIN\tSERVER")
	for _, p := range projects {
		serverName := "-"
		if p.ServerID != nil {
			for _, s := range servers {
				if s.ID == *p.ServerID {
					serverName = s.Name
				}
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Slug, p.Domain, serverName)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "DEPLOY\tPROJECT\tTAG\tSTATUS\tSTARTED")
	for _, p := range projects {
		deploys, err := app.Store.ListDeploysByProject(ctx, p.ID, opts.DeployLimit)
		if err != nil {
			return err
		}
		for _, d := range deploys {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				d.ID, p.Slug, d.Tag, d.Status, d.StartedAt.Format("2006-01-02 15:04:05"))
		}
	}
	return w.Flush()
}
