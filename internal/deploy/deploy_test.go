package deploy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/atlas/internal/audit"
	"github.com/imamik/atlas/internal/locks"
	"github.com/imamik/atlas/internal/platform/cloudflare"
	"github.com/imamik/atlas/internal/platform/ssh"
	"github.com/imamik/atlas/internal/store"
	atlastesting "github.com/imamik/atlas/internal/testing"
	"github.com/imamik/atlas/internal/worker"
)

type fakeCluster struct {
	mu          sync.Mutex
	images      []string
	deleted     []string
	applied     []string
	rollouts    []string
	failRollout map[string]bool
	failApply   bool
	closed      bool
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{failRollout: make(map[string]bool)}
}

func (c *fakeCluster) SetImage(_ context.Context, ns, deployment, container, image string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, fmt.Sprintf("%s/%s %s=%s", ns, deployment, container, image))
	return true, nil
}

func (c *fakeCluster) Apply(_ context.Context, ns, manifestYAML string) (ssh.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failApply {
		return ssh.Result{OK: false, Stderr: "error validating data"}, nil
	}
	c.applied = append(c.applied, ns+": "+manifestYAML)
	return ssh.Result{OK: true}, nil
}

func (c *fakeCluster) DeleteResource(_ context.Context, ns, resource, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, fmt.Sprintf("%s/%s/%s", ns, resource, name))
	return true, nil
}

func (c *fakeCluster) RolloutStatus(_ context.Context, ns, deployment string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollouts = append(c.rollouts, ns+"/"+deployment)
	return !c.failRollout[deployment], nil
}

func (c *fakeCluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDNS struct {
	mu      sync.Mutex
	ensured []string
	actions map[string]cloudflare.Action
	token   string
}

func (d *fakeDNS) EnsureDNS(_ context.Context, hostname, target, recordType string) (cloudflare.EnsureResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensured = append(d.ensured, fmt.Sprintf("%s %s %s", hostname, target, recordType))
	action := cloudflare.ActionCreated
	if a, ok := d.actions[hostname]; ok {
		action = a
	}
	return cloudflare.EnsureResult{Action: action, ZoneID: "zone-123", RecordID: "rec-" + hostname}, nil
}

type env struct {
	fx       *atlastesting.Fixture
	cluster  *fakeCluster
	dns      *fakeDNS
	pipeline *Pipeline
	dials    int
}

func newEnv(t *testing.T, pool *worker.Pool) *env {
	t.Helper()
	e := &env{
		fx:      atlastesting.NewFixture(t),
		cluster: newFakeCluster(),
		dns:     &fakeDNS{},
	}
	connect := func(host string) (Cluster, error) {
		require.Equal(t, e.fx.Server.Host, host)
		e.dials++
		return e.cluster, nil
	}
	dns := func(token, accountID string) DNS {
		e.dns.token = token
		return e.dns
	}
	e.pipeline = NewPipeline(e.fx.Store, e.fx.Cipher, connect, dns, audit.NewRecorder(e.fx.Store, nil), pool, locks.New(), nil)
	return e
}

func TestExecuteHappyPath(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	deploy := e.fx.TriggeredDeploy("v1.2.3")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploySuccess, got.Status)
	require.NotNil(t, got.FinishedAt)

	// Migration job is replaced, then applied fresh.
	assert.Equal(t, []string{"shop/job/migrate"}, e.cluster.deleted)
	require.Len(t, e.cluster.applied, 1)
	assert.Contains(t, e.cluster.applied[0], "image: ghcr.io/acme/shop/migrate:v1.2.3")

	// Images roll per deployable service, migrate excluded.
	assert.Equal(t, []string{
		"shop/api api=ghcr.io/acme/shop/api:v1.2.3",
		"shop/web web=ghcr.io/acme/shop/web:v1.2.3",
	}, e.cluster.images)
	assert.Equal(t, []string{"shop/api", "shop/web"}, e.cluster.rollouts)
	assert.True(t, e.cluster.closed)

	// DNS converged for the api hostname and the project domain, with the
	// decrypted credential.
	assert.Equal(t, []string{
		"api.shop.example.com 203.0.113.7 A",
		"shop.example.com 203.0.113.7 A",
	}, e.dns.ensured)
	assert.Equal(t, "cf-test-token", e.dns.token)

	domain, err := e.fx.Store.GetDomainByHostname(context.Background(), "api.shop.example.com")
	require.NoError(t, err)
	assert.True(t, domain.Verified)
	assert.Equal(t, "rec-api.shop.example.com", domain.RecordID)
	assert.Equal(t, "zone-123", domain.ZoneID)
}

func TestExecuteNoServerAssigned(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	e.fx.Project.ServerID = nil
	require.NoError(t, e.fx.Store.UpdateProject(context.Background(), e.fx.Project))
	deploy := e.fx.TriggeredDeploy("v1")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeployFailed, got.Status)
	assert.Equal(t, "No server assigned", got.Meta.Error)
	require.NotNil(t, got.FinishedAt)

	// No remote calls of any kind.
	assert.Zero(t, e.dials)
}

func TestExecuteServerWithoutHost(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	e.fx.Server.Host = ""
	require.NoError(t, e.fx.Store.UpdateServer(context.Background(), e.fx.Server))
	deploy := e.fx.TriggeredDeploy("v1")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeployFailed, got.Status)
	assert.Equal(t, "Server has no host", got.Meta.Error)
	assert.Zero(t, e.dials)
}

func TestExecuteSubset(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	deploy := e.fx.TriggeredDeploy("v2", "web")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploySuccess, got.Status)

	// Only web rolls; the migrate job is untouched because it is not in the
	// subset.
	assert.Empty(t, e.cluster.deleted)
	assert.Empty(t, e.cluster.applied)
	assert.Equal(t, []string{"shop/web web=ghcr.io/acme/shop/web:v2"}, e.cluster.images)

	// web has no hostname of its own; only the project domain reconciles.
	assert.Equal(t, []string{"shop.example.com 203.0.113.7 A"}, e.dns.ensured)
}

func TestExecuteRolloutFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	e.cluster.failRollout["web"] = true
	deploy := e.fx.TriggeredDeploy("v3")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeployFailed, got.Status)
	assert.Equal(t, "Rollout failed: web", got.Meta.Error)
	require.NotNil(t, got.FinishedAt)

	// Images were set before the rollout wait; no rollback happens.
	assert.Len(t, e.cluster.images, 2)
	// DNS is never reconciled on a failed rollout.
	assert.Empty(t, e.dns.ensured)
}

func TestExecuteMigrationApplyFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	e.cluster.failApply = true
	deploy := e.fx.TriggeredDeploy("v4")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploySuccess, got.Status)
	assert.Len(t, e.cluster.images, 2)
}

func TestExecuteStrictMigrations(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	e.cluster.failApply = true
	e.pipeline.StrictMigrations = true
	deploy := e.fx.TriggeredDeploy("v5")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeployFailed, got.Status)
	assert.Contains(t, got.Meta.Error, "migration failed")
	assert.Empty(t, e.cluster.images)
}

func TestExecuteInvalidManifest(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	e.fx.Project.ManifestYAML = ""
	require.NoError(t, e.fx.Store.UpdateProject(context.Background(), e.fx.Project))
	deploy := e.fx.TriggeredDeploy("v1")

	require.NoError(t, e.pipeline.Execute(context.Background(), deploy.ID))

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeployFailed, got.Status)
	assert.Contains(t, got.Meta.Error, "manifest is empty")
	assert.Zero(t, e.dials)
}

func TestTriggerWithoutPool(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	deploy, err := e.pipeline.Trigger(context.Background(), TriggerOptions{
		ProjectID: e.fx.Project.ID,
		Tag:       "v9",
		Services:  []string{"api"},
		UserID:    7,
	})
	require.NoError(t, err)
	assert.Equal(t, store.DeployPending, deploy.Status)
	assert.Equal(t, []string{"api"}, deploy.Meta.Services)

	entries := e.fx.Store.AuditEntries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionDeployTrigger, last.Action)
	assert.Equal(t, "v9", last.Meta["tag"])
}

func TestTriggerEnqueuesExecution(t *testing.T) {
	t.Parallel()
	pool := worker.New(1, 8, nil)
	e := newEnv(t, pool)

	deploy, err := e.pipeline.Trigger(context.Background(), TriggerOptions{
		ProjectID: e.fx.Project.ID,
		Tag:       "v10",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	got, err := e.fx.Store.GetDeploy(context.Background(), deploy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploySuccess, got.Status)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestTriggerRequiresTag(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	_, err := e.pipeline.Trigger(context.Background(), TriggerOptions{ProjectID: e.fx.Project.ID})
	assert.Error(t, err)
}
