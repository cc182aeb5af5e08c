// Package store defines the persisted entities of the control plane and the
// repository interfaces the orchestration services depend on. Two
// implementations exist: memory (tests, single-binary demo mode) and
// postgres (production).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = errors.New("not found")

// ServerStatus is the lifecycle state of a managed host.
type ServerStatus string

// Server lifecycle states.
const (
	ServerProvisioning ServerStatus = "provisioning"
	ServerOnline       ServerStatus = "online"
	ServerOffline      ServerStatus = "offline"
	ServerError        ServerStatus = "error"
)

// DeployStatus is the state of one release attempt. Transitions are strictly
// forward-moving; DeployRolledBack is an administrative override and is never
// set by the pipeline itself.
type DeployStatus string

// Deploy states.
const (
	DeployPending    DeployStatus = "pending"
	DeployBuilding   DeployStatus = "building"
	DeployPushing    DeployStatus = "pushing"
	DeployDeploying  DeployStatus = "deploying"
	DeploySuccess    DeployStatus = "success"
	DeployFailed     DeployStatus = "failed"
	DeployRolledBack DeployStatus = "rolled_back"
)

// Terminal reports whether the status ends a deploy run.
func (s DeployStatus) Terminal() bool {
	return s == DeploySuccess || s == DeployFailed || s == DeployRolledBack
}

// Organization is the tenant boundary. Provider credentials are stored
// encrypted; decryption happens only at the point of use.
type Organization struct {
	ID                  int64
	Name                string
	Slug                string
	CloudflareTokenEnc  string
	CloudflareAccountID string
	CreatedAt           time.Time
}

// User is an acting identity, referenced by deploys and the audit trail.
type User struct {
	ID        int64
	Username  string
	Role      string
	OrgID     int64
	CreatedAt time.Time
}

// Server is a managed host. Status, IP and the encrypted kubeconfig are
// written by the provisioner; Meta carries the last provisioning info or
// error text.
type Server struct {
	ID            int64
	Name          string
	Host          string
	IP            string
	KubeconfigEnc string
	Status        ServerStatus
	OrgID         int64
	Meta          map[string]string
	CreatedAt     time.Time
}

// Project is a deployable unit. ManifestYAML holds the raw service manifest;
// ServerID is nil until a server is assigned.
type Project struct {
	ID           int64
	Name         string
	Slug         string
	OrgID        int64
	ServerID     *int64
	Domain       string
	ManifestYAML string
	CreatedAt    time.Time
}

// DeployMeta is the mutable metadata of a deploy: the requested service
// subset and, on failure, the error detail.
type DeployMeta struct {
	Services []string `json:"services,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Deploy is one attempt to release a tag of a project's services.
// FinishedAt is set exactly when status becomes success or failed.
type Deploy struct {
	ID         int64
	ProjectID  int64
	UserID     int64
	Tag        string
	Status     DeployStatus
	Meta       DeployMeta
	StartedAt  time.Time
	FinishedAt *time.Time
}

// DeployStatusUpdate is a single point-in-time status write.
type DeployStatusUpdate struct {
	DeployID   int64
	Status     DeployStatus
	Meta       *DeployMeta
	FinishedAt *time.Time
}

// Secret is a project-scoped key with an encrypted value.
// (ProjectID, Key) is unique.
type Secret struct {
	ID        int64
	ProjectID int64
	Key       string
	ValueEnc  string
	UpdatedAt time.Time
}

// Domain is a hostname bound to a project, tracked against the DNS provider.
type Domain struct {
	ID        int64
	ProjectID int64
	Hostname  string
	ZoneID    string
	RecordID  string
	Verified  bool
	CreatedAt time.Time
}

// AuditEntry is an append-only record of a mutating action.
type AuditEntry struct {
	ID           int64
	OrgID        int64
	UserID       *int64
	Action       string
	ResourceType string
	ResourceID   int64
	Meta         map[string]any
	CreatedAt    time.Time
}

// OrgRepo provides organization lookups.
type OrgRepo interface {
	GetOrg(ctx context.Context, id int64) (*Organization, error)
	InsertOrg(ctx context.Context, org *Organization) error
	UpdateOrg(ctx context.Context, org *Organization) error
}

// ServerRepo provides server persistence.
//
// Delete does not check for referencing projects; keeping a server alive
// while projects reference it is the caller's responsibility.
type ServerRepo interface {
	GetServer(ctx context.Context, id int64) (*Server, error)
	ListServersByOrg(ctx context.Context, orgID int64) ([]Server, error)
	InsertServer(ctx context.Context, server *Server) error
	UpdateServer(ctx context.Context, server *Server) error
	DeleteServer(ctx context.Context, id int64) error
}

// ProjectRepo provides project persistence.
type ProjectRepo interface {
	GetProject(ctx context.Context, id int64) (*Project, error)
	GetProjectBySlug(ctx context.Context, orgID int64, slug string) (*Project, error)
	ListProjectsByOrg(ctx context.Context, orgID int64) ([]Project, error)
	InsertProject(ctx context.Context, project *Project) error
	UpdateProject(ctx context.Context, project *Project) error
}

// DeployRepo provides deploy persistence. UpdateDeployStatus writes status,
// optional meta and optional finish time in one statement.
type DeployRepo interface {
	GetDeploy(ctx context.Context, id int64) (*Deploy, error)
	ListDeploysByProject(ctx context.Context, projectID int64, limit int) ([]Deploy, error)
	InsertDeploy(ctx context.Context, deploy *Deploy) error
	UpdateDeployStatus(ctx context.Context, update DeployStatusUpdate) error
}

// SecretRepo provides secret persistence keyed by (project, key).
type SecretRepo interface {
	ListSecretsByProject(ctx context.Context, projectID int64) ([]Secret, error)
	UpsertSecret(ctx context.Context, secret *Secret) error
	DeleteSecret(ctx context.Context, projectID int64, key string) error
}

// DomainRepo provides domain persistence. Hostnames are globally unique.
type DomainRepo interface {
	GetDomainByHostname(ctx context.Context, hostname string) (*Domain, error)
	ListDomainsByProject(ctx context.Context, projectID int64) ([]Domain, error)
	InsertDomain(ctx context.Context, domain *Domain) error
	UpdateDomain(ctx context.Context, domain *Domain) error
}

// AuditRepo appends to the audit trail. Entries are never updated or deleted.
type AuditRepo interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// Store aggregates every repository. Both implementations satisfy it.
type Store interface {
	OrgRepo
	ServerRepo
	ProjectRepo
	DeployRepo
	SecretRepo
	DomainRepo
	AuditRepo
}
