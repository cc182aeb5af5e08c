// Package memory provides a mutex-guarded in-memory Store implementation,
// used by tests and by the single-binary demo mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imamik/atlas/internal/store"
)

// Store implements store.Store with in-memory maps and auto-increment ids.
type Store struct {
	mu sync.Mutex

	nextID   int64
	orgs     map[int64]store.Organization
	servers  map[int64]store.Server
	projects map[int64]store.Project
	deploys  map[int64]store.Deploy
	secrets  map[int64]store.Secret
	domains  map[int64]store.Domain
	audit    []store.AuditEntry
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		orgs:     make(map[int64]store.Organization),
		servers:  make(map[int64]store.Server),
		projects: make(map[int64]store.Project),
		deploys:  make(map[int64]store.Deploy),
		secrets:  make(map[int64]store.Secret),
		domains:  make(map[int64]store.Domain),
	}
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// GetOrg returns the organization or store.ErrNotFound.
func (s *Store) GetOrg(_ context.Context, id int64) (*store.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &org, nil
}

// InsertOrg stores an organization and assigns its id.
func (s *Store) InsertOrg(_ context.Context, org *store.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == 0 {
		org.ID = s.nextIDLocked()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.orgs[org.ID] = *org
	return nil
}

// UpdateOrg replaces an existing organization.
func (s *Store) UpdateOrg(_ context.Context, org *store.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return store.ErrNotFound
	}
	s.orgs[org.ID] = *org
	return nil
}

// GetServer returns the server or store.ErrNotFound.
func (s *Store) GetServer(_ context.Context, id int64) (*store.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := srv
	cp.Meta = copyMeta(srv.Meta)
	return &cp, nil
}

// ListServersByOrg returns the org's servers ordered by id.
func (s *Store) ListServersByOrg(_ context.Context, orgID int64) ([]store.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Server
	for _, srv := range s.servers {
		if srv.OrgID == orgID {
			out = append(out, srv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertServer stores a server and assigns its id.
func (s *Store) InsertServer(_ context.Context, server *store.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if server.ID == 0 {
		server.ID = s.nextIDLocked()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	s.servers[server.ID] = *server
	return nil
}

// UpdateServer replaces an existing server.
func (s *Store) UpdateServer(_ context.Context, server *store.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[server.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *server
	cp.Meta = copyMeta(server.Meta)
	s.servers[server.ID] = cp
	return nil
}

// DeleteServer removes a server. Deleting an absent server is not an error.
func (s *Store) DeleteServer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, id)
	return nil
}

// GetProject returns the project or store.ErrNotFound.
func (s *Store) GetProject(_ context.Context, id int64) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

// GetProjectBySlug returns the org's project with the given slug.
func (s *Store) GetProjectBySlug(_ context.Context, orgID int64, slug string) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.OrgID == orgID && p.Slug == slug {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListProjectsByOrg returns the org's projects ordered by id.
func (s *Store) ListProjectsByOrg(_ context.Context, orgID int64) ([]store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Project
	for _, p := range s.projects {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertProject stores a project and assigns its id.
func (s *Store) InsertProject(_ context.Context, project *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == 0 {
		project.ID = s.nextIDLocked()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	s.projects[project.ID] = *project
	return nil
}

// UpdateProject replaces an existing project.
func (s *Store) UpdateProject(_ context.Context, project *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; !ok {
		return store.ErrNotFound
	}
	s.projects[project.ID] = *project
	return nil
}

// GetDeploy returns the deploy or store.ErrNotFound.
func (s *Store) GetDeploy(_ context.Context, id int64) (*store.Deploy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deploys[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

// ListDeploysByProject returns the project's deploys, newest first.
func (s *Store) ListDeploysByProject(_ context.Context, projectID int64, limit int) ([]store.Deploy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Deploy
	for _, d := range s.deploys {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertDeploy stores a deploy and assigns its id.
func (s *Store) InsertDeploy(_ context.Context, deploy *store.Deploy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deploy.ID == 0 {
		deploy.ID = s.nextIDLocked()
	}
	if deploy.StartedAt.IsZero() {
		deploy.StartedAt = time.Now().UTC()
	}
	s.deploys[deploy.ID] = *deploy
	return nil
}

// UpdateDeployStatus applies a status update to an existing deploy.
func (s *Store) UpdateDeployStatus(_ context.Context, update store.DeployStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deploys[update.DeployID]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = update.Status
	if update.Meta != nil {
		d.Meta = *update.Meta
	}
	if update.FinishedAt != nil {
		d.FinishedAt = update.FinishedAt
	}
	s.deploys[update.DeployID] = d
	return nil
}

// ListSecretsByProject returns the project's secrets ordered by key.
func (s *Store) ListSecretsByProject(_ context.Context, projectID int64) ([]store.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Secret
	for _, sec := range s.secrets {
		if sec.ProjectID == projectID {
			out = append(out, sec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// UpsertSecret inserts or replaces the (project, key) row.
func (s *Store) UpsertSecret(_ context.Context, secret *store.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret.UpdatedAt = time.Now().UTC()
	for id, existing := range s.secrets {
		if existing.ProjectID == secret.ProjectID && existing.Key == secret.Key {
			secret.ID = id
			s.secrets[id] = *secret
			return nil
		}
	}
	if secret.ID == 0 {
		secret.ID = s.nextIDLocked()
	}
	s.secrets[secret.ID] = *secret
	return nil
}

// DeleteSecret removes the (project, key) row if present.
func (s *Store) DeleteSecret(_ context.Context, projectID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.secrets {
		if existing.ProjectID == projectID && existing.Key == key {
			delete(s.secrets, id)
			return nil
		}
	}
	return nil
}

// GetDomainByHostname returns the domain row or store.ErrNotFound.
func (s *Store) GetDomainByHostname(_ context.Context, hostname string) (*store.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.domains {
		if d.Hostname == hostname {
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListDomainsByProject returns the project's domains ordered by id.
func (s *Store) ListDomainsByProject(_ context.Context, projectID int64) ([]store.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Domain
	for _, d := range s.domains {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertDomain stores a domain row and assigns its id.
func (s *Store) InsertDomain(_ context.Context, domain *store.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domain.ID == 0 {
		domain.ID = s.nextIDLocked()
	}
	if domain.CreatedAt.IsZero() {
		domain.CreatedAt = time.Now().UTC()
	}
	s.domains[domain.ID] = *domain
	return nil
}

// UpdateDomain replaces an existing domain row.
func (s *Store) UpdateDomain(_ context.Context, domain *store.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[domain.ID]; !ok {
		return store.ErrNotFound
	}
	s.domains[domain.ID] = *domain
	return nil
}

// AppendAudit appends an audit entry.
func (s *Store) AppendAudit(_ context.Context, entry *store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == 0 {
		entry.ID = s.nextIDLocked()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, *entry)
	return nil
}

// AuditEntries returns a copy of the audit trail, oldest first.
func (s *Store) AuditEntries() []store.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	cp := make(map[string]string, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}
