// Package secrets manages project secrets: encrypted at rest in the store,
// reconciled into the cluster secret object of the project namespace. Cluster
// sync is best-effort; when the project has no reachable server the change is
// persisted and reported as not synced.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/imamik/atlas/internal/audit"
	"github.com/imamik/atlas/internal/crypto"
	"github.com/imamik/atlas/internal/store"
)

// Cluster is the slice of the cluster adapter this service uses.
type Cluster interface {
	SyncSecret(ctx context.Context, namespace, name string, data map[string]string) (bool, error)
	DeleteSecretKey(ctx context.Context, namespace, name, key string) (bool, error)
	Close() error
}

// ConnectFunc opens a cluster adapter for a server host target.
type ConnectFunc func(host string) (Cluster, error)

// KeyInfo is one secret key without its value.
type KeyInfo struct {
	Key       string
	UpdatedAt time.Time
}

// SetResult reports a bulk set: the keys written and whether the cluster
// object converged.
type SetResult struct {
	Keys   []string
	Synced bool
}

// Service reconciles secrets between the store and project namespaces.
type Service struct {
	store   store.Store
	cipher  *crypto.Cipher
	connect ConnectFunc
	audit   *audit.Recorder
	log     *zap.Logger
}

// NewService wires the reconciliation service. A nil logger falls back to
// zap.NewNop.
func NewService(st store.Store, cipher *crypto.Cipher, connect ConnectFunc, rec *audit.Recorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, cipher: cipher, connect: connect, audit: rec, log: log}
}

// Set upserts the given values encrypted, audits the key names, and syncs
// the project namespace. Values never reach the audit trail or the logs.
func (s *Service) Set(ctx context.Context, projectID, userID int64, values map[string]string) (SetResult, error) {
	if len(values) == 0 {
		return SetResult{}, fmt.Errorf("no secrets given")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return SetResult{}, fmt.Errorf("load project %d: %w", projectID, err)
	}

	keys := make([]string, 0, len(values))
	for key, value := range values {
		enc, err := s.cipher.EncryptString(value)
		if err != nil {
			return SetResult{}, fmt.Errorf("encrypt secret %s: %w", key, err)
		}
		if err := s.store.UpsertSecret(ctx, &store.Secret{ProjectID: projectID, Key: key, ValueEnc: enc}); err != nil {
			return SetResult{}, fmt.Errorf("store secret %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	s.audit.Record(ctx, store.AuditEntry{
		OrgID:        project.OrgID,
		UserID:       &userID,
		Action:       audit.ActionSecretsSet,
		ResourceType: "project",
		ResourceID:   projectID,
		Meta:         map[string]any{"keys": keys},
	})

	synced, err := s.SyncProject(ctx, projectID)
	if err != nil {
		// The rows are persisted; a sync failure degrades, it does not
		// undo the write.
		s.log.Warn("secret sync failed", zap.Int64("project_id", projectID), zap.Error(err))
		synced = false
	}
	return SetResult{Keys: keys, Synced: synced}, nil
}

// DeleteKey removes one key from the store and from the cluster secret
// object. The second return reports whether the cluster converged.
func (s *Service) DeleteKey(ctx context.Context, projectID, userID int64, key string) (bool, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("load project %d: %w", projectID, err)
	}
	if err := s.store.DeleteSecret(ctx, projectID, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("delete secret %s: %w", key, err)
	}

	s.audit.Record(ctx, store.AuditEntry{
		OrgID:        project.OrgID,
		UserID:       &userID,
		Action:       audit.ActionSecretsDelete,
		ResourceType: "project",
		ResourceID:   projectID,
		Meta:         map[string]any{"key": key},
	})

	cluster, ns, ok := s.dialProject(ctx, project)
	if !ok {
		return false, nil
	}
	defer func() { _ = cluster.Close() }()

	synced, err := cluster.DeleteSecretKey(ctx, ns, ns+"-secrets", key)
	if err != nil {
		s.log.Warn("secret key removal failed", zap.Int64("project_id", projectID), zap.Error(err))
		return false, nil
	}
	return synced, nil
}

// List returns the project's keys and update times, never values.
func (s *Service) List(ctx context.Context, projectID int64) ([]KeyInfo, error) {
	rows, err := s.store.ListSecretsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	infos := make([]KeyInfo, len(rows))
	for i, row := range rows {
		infos[i] = KeyInfo{Key: row.Key, UpdatedAt: row.UpdatedAt}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Values returns the decrypted secret map. This is the CLI pull path; it is
// never logged.
func (s *Service) Values(ctx context.Context, projectID int64) (map[string]string, error) {
	rows, err := s.store.ListSecretsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		value, err := s.cipher.DecryptString(row.ValueEnc)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %s: %w", row.Key, err)
		}
		values[row.Key] = value
	}
	return values, nil
}

// SyncProject pushes the full decrypted secret set into the project
// namespace. Returns false without error when the project has no reachable
// server.
func (s *Service) SyncProject(ctx context.Context, projectID int64) (bool, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("load project %d: %w", projectID, err)
	}

	data, err := s.Values(ctx, projectID)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return true, nil
	}

	cluster, ns, ok := s.dialProject(ctx, project)
	if !ok {
		return false, nil
	}
	defer func() { _ = cluster.Close() }()

	return cluster.SyncSecret(ctx, ns, ns+"-secrets", data)
}

// dialProject opens a cluster adapter for the project's server. A project
// without an assigned, addressable server yields ok=false.
func (s *Service) dialProject(ctx context.Context, project *store.Project) (Cluster, string, bool) {
	if project.ServerID == nil {
		return nil, "", false
	}
	server, err := s.store.GetServer(ctx, *project.ServerID)
	if err != nil || server.Host == "" {
		return nil, "", false
	}
	cluster, err := s.connect(server.Host)
	if err != nil {
		s.log.Warn("cluster dial failed", zap.String("host", server.Host), zap.Error(err))
		return nil, "", false
	}
	return cluster, project.Slug, true
}
