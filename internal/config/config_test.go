package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(`
master_secret: test-secret
ssh:
  private_key_path: /etc/atlas/id_ed25519
`))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "ghcr.io", cfg.Registry.Host)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 64, cfg.Worker.QueueSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Deploy.StrictMigrations)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load([]byte(`
master_secret: test-secret
store:
  backend: postgres
  database_url: postgres://atlas:pw@localhost/atlas
ssh:
  private_key_path: /etc/atlas/id_ed25519
worker:
  workers: 8
  queue_size: 128
deploy:
  strict_migrations: true
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://atlas:pw@localhost/atlas", cfg.Store.DatabaseURL)
	assert.Equal(t, 8, cfg.Worker.Workers)
	assert.True(t, cfg.Deploy.StrictMigrations)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing master secret",
			yaml: "ssh:\n  private_key_path: /k\n",
			want: "master_secret is required",
		},
		{
			name: "postgres without url",
			yaml: "master_secret: s\nstore:\n  backend: postgres\nssh:\n  private_key_path: /k\n",
			want: "database_url is required",
		},
		{
			name: "unknown backend",
			yaml: "master_secret: s\nstore:\n  backend: sqlite\nssh:\n  private_key_path: /k\n",
			want: "unknown store backend",
		},
		{
			name: "missing ssh key",
			yaml: "master_secret: s\n",
			want: "private_key_path is required",
		},
		{
			name: "bad log level",
			yaml: "master_secret: s\nssh:\n  private_key_path: /k\nlog:\n  level: loud\n",
			want: "unknown log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ATLAS_MASTER_SECRET", "")
			t.Setenv("ATLAS_DATABASE_URL", "")
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMasterSecretFromEnv(t *testing.T) {
	t.Setenv("ATLAS_MASTER_SECRET", "env-secret")
	cfg, err := Load([]byte("ssh:\n  private_key_path: /k\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.MasterSecret)
}
