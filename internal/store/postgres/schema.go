package postgres

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. Statements use IF NOT EXISTS so
// re-running against an initialized database is safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		cloudflare_token_enc TEXT,
		cloudflare_account_id VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT 'dev',
		org_id BIGINT NOT NULL REFERENCES organizations(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		host VARCHAR(255) NOT NULL,
		ip VARCHAR(45),
		kubeconfig_enc TEXT,
		status VARCHAR(32) NOT NULL DEFAULT 'offline',
		org_id BIGINT NOT NULL REFERENCES organizations(id),
		meta JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (name, org_id)
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL,
		org_id BIGINT NOT NULL REFERENCES organizations(id),
		server_id BIGINT REFERENCES servers(id),
		domain VARCHAR(255),
		manifest_yaml TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (slug, org_id)
	)`,
	`CREATE TABLE IF NOT EXISTS deploys (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id),
		user_id BIGINT NOT NULL,
		tag VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		meta JSONB,
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS deploy_project_idx ON deploys (project_id)`,
	`CREATE TABLE IF NOT EXISTS secrets (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id),
		key VARCHAR(255) NOT NULL,
		value_enc TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS domains (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id),
		hostname VARCHAR(255) NOT NULL UNIQUE,
		zone_id VARCHAR(255),
		dns_record_id VARCHAR(255),
		verified BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		org_id BIGINT NOT NULL REFERENCES organizations(id),
		user_id BIGINT,
		action VARCHAR(255) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id BIGINT,
		meta JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_org_idx ON audit_log (org_id)`,
	`CREATE INDEX IF NOT EXISTS audit_created_idx ON audit_log (created_at)`,
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
