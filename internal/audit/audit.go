// Package audit appends mutating actions to the audit trail. Recording is
// best-effort: a failed append is logged and never fails the operation that
// produced it.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/imamik/atlas/internal/store"
)

// Action tags recorded by the services.
const (
	ActionServerCreate      = "server.create"
	ActionServerUpdate      = "server.update"
	ActionServerProvisioned = "server.provisioned"
	ActionServerDelete      = "server.delete"
	ActionDeployTrigger     = "deploy.trigger"
	ActionProjectCreate     = "project.create"
	ActionSecretsSet        = "secrets.set"
	ActionSecretsDelete     = "secrets.delete"
	ActionOrgSettingsUpdate = "org.settings.update"
)

// Recorder writes audit entries through the store.
type Recorder struct {
	repo store.AuditRepo
	log  *zap.Logger
}

// NewRecorder returns a recorder. A nil logger falls back to zap.NewNop.
func NewRecorder(repo store.AuditRepo, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{repo: repo, log: log}
}

// Record appends one entry. Errors are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, entry store.AuditEntry) {
	if err := r.repo.AppendAudit(ctx, &entry); err != nil {
		r.log.Warn("audit append failed",
			zap.String("action", entry.Action),
			zap.String("resource_type", entry.ResourceType),
			zap.Int64("resource_id", entry.ResourceID),
			zap.Error(err))
	}
}
