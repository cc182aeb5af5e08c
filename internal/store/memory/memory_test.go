package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/atlas/internal/store"
)

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	_, err := s.GetServer(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	srv := &store.Server{Name: "prod-1", Host: "root@203.0.113.7", Status: store.ServerOffline, OrgID: 1}
	require.NoError(t, s.InsertServer(ctx, srv))
	require.NotZero(t, srv.ID)

	srv.Status = store.ServerOnline
	srv.IP = "203.0.113.7"
	srv.Meta = map[string]string{"info": "4 vCPU"}
	require.NoError(t, s.UpdateServer(ctx, srv))

	got, err := s.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ServerOnline, got.Status)
	assert.Equal(t, "203.0.113.7", got.IP)
	assert.Equal(t, "4 vCPU", got.Meta["info"])

	// Returned meta is a copy; mutating it must not leak into the store.
	got.Meta["info"] = "mutated"
	again, err := s.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "4 vCPU", again.Meta["info"])

	require.NoError(t, s.DeleteServer(ctx, srv.ID))
	_, err = s.GetServer(ctx, srv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProjectBySlug(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	require.NoError(t, s.InsertProject(ctx, &store.Project{Name: "Shop", Slug: "shop", OrgID: 1}))
	require.NoError(t, s.InsertProject(ctx, &store.Project{Name: "Shop", Slug: "shop", OrgID: 2}))

	p, err := s.GetProjectBySlug(ctx, 2, "shop")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.OrgID)

	_, err = s.GetProjectBySlug(ctx, 3, "shop")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeployStatusUpdate(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	d := &store.Deploy{ProjectID: 1, UserID: 1, Tag: "v1.2.3", Status: store.DeployPending}
	require.NoError(t, s.InsertDeploy(ctx, d))

	require.NoError(t, s.UpdateDeployStatus(ctx, store.DeployStatusUpdate{
		DeployID: d.ID,
		Status:   store.DeployDeploying,
	}))

	got, err := s.GetDeploy(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeployDeploying, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Meta.Error)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateDeployStatus(ctx, store.DeployStatusUpdate{
		DeployID:   d.ID,
		Status:     store.DeployFailed,
		Meta:       &store.DeployMeta{Error: "rollout failed"},
		FinishedAt: &now,
	}))

	got, err = s.GetDeploy(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeployFailed, got.Status)
	assert.Equal(t, "rollout failed", got.Meta.Error)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, now, *got.FinishedAt)

	err = s.UpdateDeployStatus(ctx, store.DeployStatusUpdate{DeployID: 999, Status: store.DeployFailed})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListDeploysByProjectNewestFirst(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, tag := range []string{"v1", "v2", "v3"} {
		require.NoError(t, s.InsertDeploy(ctx, &store.Deploy{ProjectID: 7, UserID: 1, Tag: tag, Status: store.DeployPending}))
	}
	require.NoError(t, s.InsertDeploy(ctx, &store.Deploy{ProjectID: 8, UserID: 1, Tag: "other", Status: store.DeployPending}))

	out, err := s.ListDeploysByProject(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "v3", out[0].Tag)
	assert.Equal(t, "v2", out[1].Tag)
}

func TestSecretUpsertUniqueness(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertSecret(ctx, &store.Secret{ProjectID: 1, Key: "DATABASE_URL", ValueEnc: "enc1"}))
	require.NoError(t, s.UpsertSecret(ctx, &store.Secret{ProjectID: 1, Key: "DATABASE_URL", ValueEnc: "enc2"}))
	require.NoError(t, s.UpsertSecret(ctx, &store.Secret{ProjectID: 2, Key: "DATABASE_URL", ValueEnc: "enc3"}))

	rows, err := s.ListSecretsByProject(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "enc2", rows[0].ValueEnc)

	require.NoError(t, s.DeleteSecret(ctx, 1, "DATABASE_URL"))
	require.NoError(t, s.DeleteSecret(ctx, 1, "DATABASE_URL")) // idempotent

	rows, err = s.ListSecretsByProject(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDomainUpsertFlow(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	_, err := s.GetDomainByHostname(ctx, "api.example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	d := &store.Domain{ProjectID: 1, Hostname: "api.example.com", RecordID: "rec-1", Verified: true}
	require.NoError(t, s.InsertDomain(ctx, d))

	d.RecordID = "rec-2"
	require.NoError(t, s.UpdateDomain(ctx, d))

	got, err := s.GetDomainByHostname(ctx, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "rec-2", got.RecordID)
	assert.True(t, got.Verified)
}

func TestAuditAppendOnly(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	uid := int64(4)
	require.NoError(t, s.AppendAudit(ctx, &store.AuditEntry{
		OrgID: 1, UserID: &uid, Action: "server.provisioned", ResourceType: "server", ResourceID: 2,
	}))
	require.NoError(t, s.AppendAudit(ctx, &store.AuditEntry{
		OrgID: 1, Action: "deploy.trigger", ResourceType: "deploy", ResourceID: 3,
	}))

	entries := s.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "server.provisioned", entries[0].Action)
	assert.Equal(t, "deploy.trigger", entries[1].Action)
	assert.False(t, entries[0].CreatedAt.IsZero())
}
