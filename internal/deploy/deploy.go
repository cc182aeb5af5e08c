// Package deploy is the release pipeline: it rolls a tagged image set onto a
// project's cluster, waits for convergence, and reconciles DNS for the
// project's hostnames. Deploys for the same project are serialized; the
// pipeline never rolls images back on failure, the previous ReplicaSets stay
// in place for kubectl rollout undo.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imamik/atlas/internal/audit"
	"github.com/imamik/atlas/internal/crypto"
	"github.com/imamik/atlas/internal/locks"
	"github.com/imamik/atlas/internal/manifest"
	"github.com/imamik/atlas/internal/platform/cloudflare"
	"github.com/imamik/atlas/internal/platform/kube"
	"github.com/imamik/atlas/internal/platform/ssh"
	"github.com/imamik/atlas/internal/store"
	"github.com/imamik/atlas/internal/worker"
)

// Cluster is the slice of the cluster adapter the pipeline uses.
type Cluster interface {
	SetImage(ctx context.Context, namespace, deployment, container, image string) (bool, error)
	Apply(ctx context.Context, namespace, manifestYAML string) (ssh.Result, error)
	DeleteResource(ctx context.Context, namespace, resource, name string) (bool, error)
	RolloutStatus(ctx context.Context, namespace, deployment string) (bool, error)
	Close() error
}

// DNS is the slice of the DNS reconciler the pipeline uses.
type DNS interface {
	EnsureDNS(ctx context.Context, hostname, target, recordType string) (cloudflare.EnsureResult, error)
}

// ConnectFunc opens a cluster adapter for a server host target.
type ConnectFunc func(host string) (Cluster, error)

// DNSFunc builds a DNS reconciler for a decrypted credential.
type DNSFunc func(apiToken, accountID string) DNS

// Pipeline executes and triggers deploys.
type Pipeline struct {
	store   store.Store
	cipher  *crypto.Cipher
	connect ConnectFunc
	dns     DNSFunc
	audit   *audit.Recorder
	pool    *worker.Pool
	locks   *locks.Keyed
	log     *zap.Logger

	// StrictMigrations fails the deploy when the migration job cannot be
	// applied. Off by default: a broken migration apply is logged and the
	// rollout proceeds.
	StrictMigrations bool

	// Registry is the image registry host. Defaults to ghcr.io.
	Registry string
}

// NewPipeline wires the pipeline. pool may be nil when Execute is only
// called synchronously.
func NewPipeline(st store.Store, cipher *crypto.Cipher, connect ConnectFunc, dns DNSFunc, rec *audit.Recorder, pool *worker.Pool, keyed *locks.Keyed, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if keyed == nil {
		keyed = locks.New()
	}
	return &Pipeline{store: st, cipher: cipher, connect: connect, dns: dns, audit: rec, pool: pool, locks: keyed, log: log}
}

// TriggerOptions describe one requested deploy.
type TriggerOptions struct {
	ProjectID int64
	Tag       string
	// Services restricts the deploy to a subset of manifest services. Empty
	// means all.
	Services []string
	UserID   int64
}

// Trigger persists a pending deploy, audits it, and enqueues execution.
func (p *Pipeline) Trigger(ctx context.Context, opts TriggerOptions) (*store.Deploy, error) {
	if opts.Tag == "" {
		return nil, fmt.Errorf("tag is required")
	}
	project, err := p.store.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", opts.ProjectID, err)
	}

	deploy := &store.Deploy{
		ProjectID: project.ID,
		UserID:    opts.UserID,
		Tag:       opts.Tag,
		Status:    store.DeployPending,
		Meta:      store.DeployMeta{Services: opts.Services},
		StartedAt: time.Now().UTC(),
	}
	if err := p.store.InsertDeploy(ctx, deploy); err != nil {
		return nil, fmt.Errorf("insert deploy: %w", err)
	}

	p.audit.Record(ctx, store.AuditEntry{
		OrgID:        project.OrgID,
		UserID:       &opts.UserID,
		Action:       audit.ActionDeployTrigger,
		ResourceType: "deploy",
		ResourceID:   deploy.ID,
		Meta:         map[string]any{"tag": opts.Tag, "services": opts.Services},
	})

	if p.pool != nil {
		deployID := deploy.ID
		err := p.pool.Submit(worker.Task{
			Name: fmt.Sprintf("deploy:%d", deployID),
			Func: func(taskCtx context.Context) error {
				return p.Execute(taskCtx, deployID)
			},
		})
		if err != nil {
			p.fail(ctx, deploy, "deploy queue unavailable: "+err.Error())
			return nil, err
		}
	}
	return deploy, nil
}

// Execute runs one deploy to a terminal status. The returned error reports
// infrastructure trouble; a deploy that ends in status=failed for domain
// reasons (no server, rollout timeout) returns nil.
func (p *Pipeline) Execute(ctx context.Context, deployID int64) error {
	deploy, err := p.store.GetDeploy(ctx, deployID)
	if err != nil {
		return fmt.Errorf("load deploy %d: %w", deployID, err)
	}

	release, err := p.locks.Acquire(ctx, fmt.Sprintf("project:%d", deploy.ProjectID))
	if err != nil {
		return err
	}
	defer release()

	project, err := p.store.GetProject(ctx, deploy.ProjectID)
	if err != nil || project.ServerID == nil {
		p.fail(ctx, deploy, "No server assigned")
		return nil
	}
	server, err := p.store.GetServer(ctx, *project.ServerID)
	if err != nil {
		p.fail(ctx, deploy, "No server assigned")
		return nil
	}
	if server.Host == "" {
		p.fail(ctx, deploy, "Server has no host")
		return nil
	}

	m, err := manifest.Parse(project.ManifestYAML)
	if err != nil {
		p.fail(ctx, deploy, err.Error())
		return nil
	}

	cluster, err := p.connect(server.Host)
	if err != nil {
		p.fail(ctx, deploy, "cluster unreachable: "+err.Error())
		return nil
	}
	defer func() { _ = cluster.Close() }()

	p.updateStatus(ctx, deploy, store.DeployDeploying, nil)

	registryHost := p.Registry
	if registryHost == "" {
		registryHost = "ghcr.io"
	}
	registry := fmt.Sprintf("%s/%s/%s", registryHost, m.Org, m.Name)
	ns := m.Name
	selected := selectServices(m, deploy.Meta.Services)

	if _, ok := selected[manifest.MigrateService]; ok {
		if err := p.runMigration(ctx, cluster, ns, registry, deploy.Tag); err != nil {
			if p.StrictMigrations {
				p.fail(ctx, deploy, "migration failed: "+err.Error())
				return nil
			}
			p.log.Error("migration apply failed", zap.Int64("deploy_id", deploy.ID), zap.Error(err))
		}
	}

	deployable := make([]string, 0, len(selected))
	for name := range selected {
		if name != manifest.MigrateService {
			deployable = append(deployable, name)
		}
	}
	sort.Strings(deployable)

	for _, name := range deployable {
		image := fmt.Sprintf("%s/%s:%s", registry, name, deploy.Tag)
		if _, err := cluster.SetImage(ctx, ns, name, name, image); err != nil {
			p.fail(ctx, deploy, "set image: "+err.Error())
			return nil
		}
	}

	var unhealthy []string
	for _, name := range deployable {
		ok, err := cluster.RolloutStatus(ctx, ns, name)
		if err != nil {
			p.fail(ctx, deploy, "rollout status: "+err.Error())
			return nil
		}
		if !ok {
			unhealthy = append(unhealthy, name)
			p.log.Error("rollout failed", zap.Int64("deploy_id", deploy.ID), zap.String("service", name))
		}
	}
	if len(unhealthy) > 0 {
		p.fail(ctx, deploy, "Rollout failed: "+strings.Join(unhealthy, ", "))
		return nil
	}

	p.reconcileDNS(ctx, project, server, m, selected)

	p.updateStatus(ctx, deploy, store.DeploySuccess, nil)
	return nil
}

// runMigration replaces the previous migration job and applies a fresh one
// for the tag. The job itself runs asynchronously on the cluster.
func (p *Pipeline) runMigration(ctx context.Context, cluster Cluster, ns, registry, tag string) error {
	jobYAML, err := kube.MigrationJob(ns, fmt.Sprintf("%s/%s:%s", registry, manifest.MigrateService, tag))
	if err != nil {
		return err
	}
	if _, err := cluster.DeleteResource(ctx, ns, "job", manifest.MigrateService); err != nil {
		return err
	}
	res, err := cluster.Apply(ctx, ns, jobYAML)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// reconcileDNS converges a record for every hostname of the selected
// services plus the project domain. DNS trouble never fails the deploy; each
// hostname is handled independently.
func (p *Pipeline) reconcileDNS(ctx context.Context, project *store.Project, server *store.Server, m *manifest.Project, selected map[string]manifest.Service) {
	if server.IP == "" {
		return
	}
	org, err := p.store.GetOrg(ctx, project.OrgID)
	if err != nil || org.CloudflareTokenEnc == "" || org.CloudflareAccountID == "" {
		return
	}
	token, err := p.cipher.DecryptString(org.CloudflareTokenEnc)
	if err != nil {
		p.log.Error("decrypt Cloudflare token", zap.Int64("org_id", org.ID), zap.Error(err))
		return
	}
	dns := p.dns(token, org.CloudflareAccountID)

	hostnames := hostnamesFor(m, selected)
	for _, hostname := range hostnames {
		result, err := dns.EnsureDNS(ctx, hostname, server.IP, "A")
		if err != nil {
			p.log.Error("DNS reconciliation failed", zap.String("hostname", hostname), zap.Error(err))
			continue
		}
		p.upsertDomain(ctx, project.ID, hostname, result)
		if result.Action != cloudflare.ActionExists {
			p.log.Info("DNS record converged",
				zap.String("hostname", hostname),
				zap.String("action", string(result.Action)))
		}
	}
}

func (p *Pipeline) upsertDomain(ctx context.Context, projectID int64, hostname string, result cloudflare.EnsureResult) {
	existing, err := p.store.GetDomainByHostname(ctx, hostname)
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = p.store.InsertDomain(ctx, &store.Domain{
			ProjectID: projectID,
			Hostname:  hostname,
			ZoneID:    result.ZoneID,
			RecordID:  result.RecordID,
			Verified:  true,
		})
	case err == nil:
		existing.ZoneID = result.ZoneID
		existing.RecordID = result.RecordID
		existing.Verified = true
		err = p.store.UpdateDomain(ctx, existing)
	}
	if err != nil {
		p.log.Error("domain upsert failed", zap.String("hostname", hostname), zap.Error(err))
	}
}

// fail moves the deploy to status=failed, preserving the requested service
// subset in meta.
func (p *Pipeline) fail(ctx context.Context, deploy *store.Deploy, detail string) {
	meta := deploy.Meta
	meta.Error = detail
	p.updateStatus(ctx, deploy, store.DeployFailed, &meta)
}

func (p *Pipeline) updateStatus(ctx context.Context, deploy *store.Deploy, status store.DeployStatus, meta *store.DeployMeta) {
	update := store.DeployStatusUpdate{DeployID: deploy.ID, Status: status, Meta: meta}
	if status == store.DeploySuccess || status == store.DeployFailed {
		now := time.Now().UTC()
		update.FinishedAt = &now
	}
	if err := p.store.UpdateDeployStatus(ctx, update); err != nil {
		p.log.Error("deploy status write failed",
			zap.Int64("deploy_id", deploy.ID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// selectServices resolves the requested subset against the manifest. An
// empty subset selects everything; unknown names are ignored.
func selectServices(m *manifest.Project, subset []string) map[string]manifest.Service {
	if len(subset) == 0 {
		out := make(map[string]manifest.Service, len(m.Services))
		for name, svc := range m.Services {
			out[name] = svc
		}
		return out
	}
	out := make(map[string]manifest.Service)
	for _, name := range subset {
		if svc, ok := m.Services[name]; ok {
			out[name] = svc
		}
	}
	return out
}

// hostnamesFor collects the domains of the selected services plus the
// project domain, deduplicated, project domain last.
func hostnamesFor(m *manifest.Project, selected map[string]manifest.Service) []string {
	seen := make(map[string]bool)
	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		if d := selected[name].Domain; d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	if m.Domain != "" && !seen[m.Domain] {
		out = append(out, m.Domain)
	}
	return out
}
