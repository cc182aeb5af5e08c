package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imamik/atlas/internal/crypto"
	"github.com/imamik/atlas/internal/store"
	"github.com/imamik/atlas/internal/store/memory"
)

// FixtureManifest is the service manifest the fixture project carries: two
// deployable services, a migrate hook, and a custom domain on the api.
const FixtureManifest = `name: shop
org: acme
domain: shop.example.com
services:
  api:
    type: api
    port: 3000
    domain: api.shop.example.com
  web:
    type: web
    port: 3000
  migrate:
    dockerfile: Dockerfile.migrate
infra:
  postgres: true
`

// Fixture is a pre-seeded in-memory store: one org with a Cloudflare
// credential, one online server, and one project assigned to it.
type Fixture struct {
	t       *testing.T
	Store   *memory.Store
	Cipher  *crypto.Cipher
	Org     *store.Organization
	User    *store.User
	Server  *store.Server
	Project *store.Project
}

// NewFixture seeds a memory store with the standard test tenant.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	ctx := context.Background()

	cipher, err := crypto.New("fixture-master-secret")
	require.NoError(t, err)

	st := memory.New()

	tokenEnc, err := cipher.EncryptString("cf-test-token")
	require.NoError(t, err)

	org := &store.Organization{
		Name:                "Acme",
		Slug:                "acme",
		CloudflareTokenEnc:  tokenEnc,
		CloudflareAccountID: "acct-1",
	}
	require.NoError(t, st.InsertOrg(ctx, org))

	kubeconfigEnc, err := cipher.EncryptString("apiVersion: v1\nclusters:\n- cluster:\n    server: https://203.0.113.7:6443\n")
	require.NoError(t, err)

	server := &store.Server{
		Name:          "node1",
		Host:          "root@203.0.113.7",
		IP:            "203.0.113.7",
		KubeconfigEnc: kubeconfigEnc,
		Status:        store.ServerOnline,
		OrgID:         org.ID,
	}
	require.NoError(t, st.InsertServer(ctx, server))

	project := &store.Project{
		Name:         "Shop",
		Slug:         "shop",
		OrgID:        org.ID,
		ServerID:     &server.ID,
		Domain:       "shop.example.com",
		ManifestYAML: FixtureManifest,
	}
	require.NoError(t, st.InsertProject(ctx, project))

	user := &store.User{Username: "dev", Role: "admin", OrgID: org.ID}

	return &Fixture{t: t, Store: st, Cipher: cipher, Org: org, User: user, Server: server, Project: project}
}

// TriggeredDeploy inserts a pending deploy for the fixture project.
func (f *Fixture) TriggeredDeploy(tag string, services ...string) *store.Deploy {
	f.t.Helper()
	deploy := &store.Deploy{
		ProjectID: f.Project.ID,
		UserID:    f.User.ID,
		Tag:       tag,
		Status:    store.DeployPending,
		Meta:      store.DeployMeta{Services: services},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(f.t, f.Store.InsertDeploy(context.Background(), deploy))
	return deploy
}

// SeedSecret stores one encrypted secret for the fixture project.
func (f *Fixture) SeedSecret(key, value string) *store.Secret {
	f.t.Helper()
	enc, err := f.Cipher.EncryptString(value)
	require.NoError(f.t, err)
	secret := &store.Secret{ProjectID: f.Project.ID, Key: key, ValueEnc: enc}
	require.NoError(f.t, f.Store.UpsertSecret(context.Background(), secret))
	return secret
}
