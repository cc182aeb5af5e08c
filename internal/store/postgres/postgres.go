// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imamik/atlas/internal/store"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New constructs a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the given DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetOrg returns the organization or store.ErrNotFound.
func (s *Store) GetOrg(ctx context.Context, id int64) (*store.Organization, error) {
	const query = `SELECT id, name, slug, COALESCE(cloudflare_token_enc, ''), COALESCE(cloudflare_account_id, ''), created_at
		FROM organizations WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	var org store.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.CloudflareTokenEnc, &org.CloudflareAccountID, &org.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &org, nil
}

// InsertOrg inserts an organization and fills in its id.
func (s *Store) InsertOrg(ctx context.Context, org *store.Organization) error {
	const query = `INSERT INTO organizations (name, slug, cloudflare_token_enc, cloudflare_account_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, '')) RETURNING id, created_at`
	row := s.pool.QueryRow(ctx, query, org.Name, org.Slug, org.CloudflareTokenEnc, org.CloudflareAccountID)
	return row.Scan(&org.ID, &org.CreatedAt)
}

// UpdateOrg updates the mutable organization fields.
func (s *Store) UpdateOrg(ctx context.Context, org *store.Organization) error {
	const query = `UPDATE organizations
		SET name = $2, slug = $3, cloudflare_token_enc = NULLIF($4, ''), cloudflare_account_id = NULLIF($5, '')
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, org.ID, org.Name, org.Slug, org.CloudflareTokenEnc, org.CloudflareAccountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetServer returns the server or store.ErrNotFound.
func (s *Store) GetServer(ctx context.Context, id int64) (*store.Server, error) {
	const query = `SELECT id, name, host, COALESCE(ip, ''), COALESCE(kubeconfig_enc, ''), status, org_id, COALESCE(meta, '{}'), created_at
		FROM servers WHERE id = $1`
	return scanServer(s.pool.QueryRow(ctx, query, id))
}

// ListServersByOrg returns the org's servers ordered by id.
func (s *Store) ListServersByOrg(ctx context.Context, orgID int64) ([]store.Server, error) {
	const query = `SELECT id, name, host, COALESCE(ip, ''), COALESCE(kubeconfig_enc, ''), status, org_id, COALESCE(meta, '{}'), created_at
		FROM servers WHERE org_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *srv)
	}
	return out, rows.Err()
}

// InsertServer inserts a server and fills in its id.
func (s *Store) InsertServer(ctx context.Context, server *store.Server) error {
	meta, err := metaJSON(server.Meta)
	if err != nil {
		return err
	}
	const query = `INSERT INTO servers (name, host, ip, kubeconfig_enc, status, org_id, meta)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7) RETURNING id, created_at`
	row := s.pool.QueryRow(ctx, query, server.Name, server.Host, server.IP, server.KubeconfigEnc, server.Status, server.OrgID, meta)
	return row.Scan(&server.ID, &server.CreatedAt)
}

// UpdateServer updates the mutable server fields.
func (s *Store) UpdateServer(ctx context.Context, server *store.Server) error {
	meta, err := metaJSON(server.Meta)
	if err != nil {
		return err
	}
	const query = `UPDATE servers
		SET name = $2, host = $3, ip = NULLIF($4, ''), kubeconfig_enc = NULLIF($5, ''), status = $6, meta = $7
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, server.ID, server.Name, server.Host, server.IP, server.KubeconfigEnc, server.Status, meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteServer removes a server row.
func (s *Store) DeleteServer(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	return err
}

// GetProject returns the project or store.ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id int64) (*store.Project, error) {
	const query = `SELECT id, name, slug, org_id, server_id, COALESCE(domain, ''), COALESCE(manifest_yaml, ''), created_at
		FROM projects WHERE id = $1`
	return scanProject(s.pool.QueryRow(ctx, query, id))
}

// GetProjectBySlug returns the org's project with the given slug.
func (s *Store) GetProjectBySlug(ctx context.Context, orgID int64, slug string) (*store.Project, error) {
	const query = `SELECT id, name, slug, org_id, server_id, COALESCE(domain, ''), COALESCE(manifest_yaml, ''), created_at
		FROM projects WHERE org_id = $1 AND slug = $2`
	return scanProject(s.pool.QueryRow(ctx, query, orgID, slug))
}

// ListProjectsByOrg returns the org's projects ordered by id.
func (s *Store) ListProjectsByOrg(ctx context.Context, orgID int64) ([]store.Project, error) {
	const query = `SELECT id, name, slug, org_id, server_id, COALESCE(domain, ''), COALESCE(manifest_yaml, ''), created_at
		FROM projects WHERE org_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// InsertProject inserts a project and fills in its id.
func (s *Store) InsertProject(ctx context.Context, project *store.Project) error {
	const query = `INSERT INTO projects (name, slug, org_id, server_id, domain, manifest_yaml)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, '')) RETURNING id, created_at`
	row := s.pool.QueryRow(ctx, query, project.Name, project.Slug, project.OrgID, project.ServerID, project.Domain, project.ManifestYAML)
	return row.Scan(&project.ID, &project.CreatedAt)
}

// UpdateProject updates the mutable project fields.
func (s *Store) UpdateProject(ctx context.Context, project *store.Project) error {
	const query = `UPDATE projects
		SET name = $2, slug = $3, server_id = $4, domain = NULLIF($5, ''), manifest_yaml = NULLIF($6, '')
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, project.ID, project.Name, project.Slug, project.ServerID, project.Domain, project.ManifestYAML)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetDeploy returns the deploy or store.ErrNotFound.
func (s *Store) GetDeploy(ctx context.Context, id int64) (*store.Deploy, error) {
	const query = `SELECT id, project_id, user_id, tag, status, COALESCE(meta, '{}'), started_at, finished_at
		FROM deploys WHERE id = $1`
	return scanDeploy(s.pool.QueryRow(ctx, query, id))
}

// ListDeploysByProject returns the project's deploys, newest first.
func (s *Store) ListDeploysByProject(ctx context.Context, projectID int64, limit int) ([]store.Deploy, error) {
	const query = `SELECT id, project_id, user_id, tag, status, COALESCE(meta, '{}'), started_at, finished_at
		FROM deploys WHERE project_id = $1 ORDER BY id DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Deploy
	for rows.Next() {
		d, err := scanDeploy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// InsertDeploy inserts a deploy and fills in its id and start time.
func (s *Store) InsertDeploy(ctx context.Context, deploy *store.Deploy) error {
	meta, err := json.Marshal(deploy.Meta)
	if err != nil {
		return fmt.Errorf("marshal deploy meta: %w", err)
	}
	const query = `INSERT INTO deploys (project_id, user_id, tag, status, meta)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, started_at`
	row := s.pool.QueryRow(ctx, query, deploy.ProjectID, deploy.UserID, deploy.Tag, deploy.Status, meta)
	return row.Scan(&deploy.ID, &deploy.StartedAt)
}

// UpdateDeployStatus applies a status update in a single statement.
func (s *Store) UpdateDeployStatus(ctx context.Context, update store.DeployStatusUpdate) error {
	var meta []byte
	if update.Meta != nil {
		var err error
		meta, err = json.Marshal(update.Meta)
		if err != nil {
			return fmt.Errorf("marshal deploy meta: %w", err)
		}
	}
	const query = `UPDATE deploys
		SET status = $2,
		    meta = COALESCE($3, meta),
		    finished_at = COALESCE($4, finished_at)
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, update.DeployID, update.Status, meta, update.FinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListSecretsByProject returns the project's secrets ordered by key.
func (s *Store) ListSecretsByProject(ctx context.Context, projectID int64) ([]store.Secret, error) {
	const query = `SELECT id, project_id, key, value_enc, updated_at
		FROM secrets WHERE project_id = $1 ORDER BY key`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Secret
	for rows.Next() {
		var sec store.Secret
		if err := rows.Scan(&sec.ID, &sec.ProjectID, &sec.Key, &sec.ValueEnc, &sec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// UpsertSecret inserts or replaces the (project, key) row.
func (s *Store) UpsertSecret(ctx context.Context, secret *store.Secret) error {
	const query = `INSERT INTO secrets (project_id, key, value_enc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (project_id, key) DO UPDATE SET value_enc = EXCLUDED.value_enc, updated_at = now()
		RETURNING id, updated_at`
	row := s.pool.QueryRow(ctx, query, secret.ProjectID, secret.Key, secret.ValueEnc)
	return row.Scan(&secret.ID, &secret.UpdatedAt)
}

// DeleteSecret removes the (project, key) row if present.
func (s *Store) DeleteSecret(ctx context.Context, projectID int64, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM secrets WHERE project_id = $1 AND key = $2`, projectID, key)
	return err
}

// GetDomainByHostname returns the domain row or store.ErrNotFound.
func (s *Store) GetDomainByHostname(ctx context.Context, hostname string) (*store.Domain, error) {
	const query = `SELECT id, project_id, hostname, COALESCE(zone_id, ''), COALESCE(dns_record_id, ''), verified, created_at
		FROM domains WHERE hostname = $1`
	row := s.pool.QueryRow(ctx, query, hostname)
	var d store.Domain
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Hostname, &d.ZoneID, &d.RecordID, &d.Verified, &d.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

// ListDomainsByProject returns the project's domains ordered by id.
func (s *Store) ListDomainsByProject(ctx context.Context, projectID int64) ([]store.Domain, error) {
	const query = `SELECT id, project_id, hostname, COALESCE(zone_id, ''), COALESCE(dns_record_id, ''), verified, created_at
		FROM domains WHERE project_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Domain
	for rows.Next() {
		var d store.Domain
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Hostname, &d.ZoneID, &d.RecordID, &d.Verified, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertDomain inserts a domain row and fills in its id.
func (s *Store) InsertDomain(ctx context.Context, domain *store.Domain) error {
	const query = `INSERT INTO domains (project_id, hostname, zone_id, dns_record_id, verified)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5) RETURNING id, created_at`
	row := s.pool.QueryRow(ctx, query, domain.ProjectID, domain.Hostname, domain.ZoneID, domain.RecordID, domain.Verified)
	return row.Scan(&domain.ID, &domain.CreatedAt)
}

// UpdateDomain updates the mutable domain fields.
func (s *Store) UpdateDomain(ctx context.Context, domain *store.Domain) error {
	const query = `UPDATE domains
		SET zone_id = NULLIF($2, ''), dns_record_id = NULLIF($3, ''), verified = $4
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, domain.ID, domain.ZoneID, domain.RecordID, domain.Verified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendAudit appends an audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry *store.AuditEntry) error {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}
	const query = `INSERT INTO audit_log (org_id, user_id, action, resource_type, resource_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	row := s.pool.QueryRow(ctx, query, entry.OrgID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, meta)
	return row.Scan(&entry.ID, &entry.CreatedAt)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanServer(row scannable) (*store.Server, error) {
	var srv store.Server
	var meta []byte
	if err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.IP, &srv.KubeconfigEnc, &srv.Status, &srv.OrgID, &meta, &srv.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &srv.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal server meta: %w", err)
		}
	}
	return &srv, nil
}

func scanProject(row scannable) (*store.Project, error) {
	var p store.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.OrgID, &p.ServerID, &p.Domain, &p.ManifestYAML, &p.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func scanDeploy(row scannable) (*store.Deploy, error) {
	var d store.Deploy
	var meta []byte
	var finished *time.Time
	if err := row.Scan(&d.ID, &d.ProjectID, &d.UserID, &d.Tag, &d.Status, &meta, &d.StartedAt, &finished); err != nil {
		return nil, mapErr(err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal deploy meta: %w", err)
		}
	}
	d.FinishedAt = finished
	return &d, nil
}

func metaJSON(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return data, nil
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
