package manifest

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullManifest = `
name: shop
org: acme
domain: shop.example.com
services:
  api:
    type: api
    dockerfile: ./apps/api/Dockerfile
    port: 3000
    domain: api.shop.example.com
  web:
    type: web
    dockerfile: ./apps/web/Dockerfile
    target: runner
    port: 3001
    domain: shop.example.com
  worker:
    type: worker
    dockerfile: ./apps/worker/Dockerfile
  migrate:
    dockerfile: ./apps/api/Dockerfile
    target: migrate
infra:
  postgres: true
  redis: true
`

func TestParseFullManifest(t *testing.T) {
	t.Parallel()
	p, err := Parse(fullManifest)
	require.NoError(t, err)

	assert.Equal(t, "shop", p.Name)
	assert.Equal(t, "acme", p.Org)
	assert.Equal(t, "shop.example.com", p.Domain)
	assert.Len(t, p.Services, 4)
	assert.Equal(t, KindAPI, p.Services["api"].Type)
	assert.Equal(t, "runner", p.Services["web"].Target)
	assert.True(t, p.Infra.Postgres)
	assert.True(t, p.Infra.Redis)
	assert.False(t, p.Infra.Tunnel)

	names := p.ServiceNames()
	sort.Strings(names)
	assert.Equal(t, []string{"api", "migrate", "web", "worker"}, names)
}

func TestHostnamesDeduplicated(t *testing.T) {
	t.Parallel()
	p, err := Parse(fullManifest)
	require.NoError(t, err)

	hosts := p.Hostnames()
	sort.Strings(hosts)
	// web's domain equals the project domain; it must appear once.
	assert.Equal(t, []string{"api.shop.example.com", "shop.example.com"}, hosts)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"not yaml", "{{nope"},
		{"no services", "name: shop\norg: acme\n"},
		{"bad project name", "name: 'Sh op'\norg: acme\nservices:\n  api:\n    type: api\n    dockerfile: ./Dockerfile\n"},
		{"bad service name", "name: shop\norg: acme\nservices:\n  'bad name':\n    type: api\n    dockerfile: ./Dockerfile\n"},
		{"bad service type", "name: shop\norg: acme\nservices:\n  api:\n    type: cron\n    dockerfile: ./Dockerfile\n"},
		{"shell metachars in name", "name: shop\norg: acme\nservices:\n  'api;rm -rf /':\n    type: api\n    dockerfile: ./Dockerfile\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestMigrateServiceSkipsTypeCheck(t *testing.T) {
	t.Parallel()
	p, err := Parse("name: shop\norg: acme\nservices:\n  migrate:\n    dockerfile: ./Dockerfile\n")
	require.NoError(t, err)
	_, ok := p.Services[MigrateService]
	assert.True(t, ok)
}
