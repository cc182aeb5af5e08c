// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic and
// can be tested independently of the CLI framework.
package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/imamik/atlas/internal/audit"
	"github.com/imamik/atlas/internal/config"
	"github.com/imamik/atlas/internal/crypto"
	"github.com/imamik/atlas/internal/deploy"
	"github.com/imamik/atlas/internal/platform/cloudflare"
	"github.com/imamik/atlas/internal/platform/kube"
	"github.com/imamik/atlas/internal/platform/ssh"
	"github.com/imamik/atlas/internal/secrets"
	"github.com/imamik/atlas/internal/store"
	"github.com/imamik/atlas/internal/store/memory"
	"github.com/imamik/atlas/internal/store/postgres"
	"github.com/imamik/atlas/internal/worker"
)

const defaultConfigFile = "atlas.yaml"

// Factory function variables - can be replaced in tests for dependency
// injection.
var (
	// loadConfigFile loads config from file.
	loadConfigFile = config.LoadFile

	// readFile reads the SSH private key.
	readFile = os.ReadFile

	// openStore opens the configured persistence backend.
	openStore = func(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
		switch cfg.Store.Backend {
		case config.StorePostgres:
			st, err := postgres.Connect(ctx, cfg.Store.DatabaseURL)
			if err != nil {
				return nil, nil, err
			}
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, nil, err
			}
			return st, st.Close, nil
		default:
			return memory.New(), func() {}, nil
		}
	}

	// newDNSClient builds a DNS reconciler for a decrypted credential.
	newDNSClient = func(apiToken, accountID string) deploy.DNS {
		return cloudflare.NewClient(apiToken, accountID)
	}

	// verifyDNSCredential checks an API token against the provider.
	verifyDNSCredential = func(ctx context.Context, apiToken, accountID string) error {
		return cloudflare.NewClient(apiToken, accountID).Verify(ctx)
	}

	// dialSSH opens an SSH session to a host.
	dialSSH = ssh.Dial
)

// App bundles the wired services behind the CLI handlers.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	Store  store.Store
	Cipher *crypto.Cipher
	Dial   ssh.DialFunc
	Audit  *audit.Recorder
	Pool   *worker.Pool

	closers []func()
}

// buildApp loads configuration and wires the shared dependencies.
func buildApp(ctx context.Context, configPath string) (*App, error) {
	if configPath == "" {
		configPath = defaultConfigFile
	}
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	cipher, err := crypto.New(cfg.MasterSecret)
	if err != nil {
		return nil, err
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	key, err := readFile(cfg.SSH.PrivateKeyPath)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("read SSH key: %w", err)
	}

	pool := worker.New(cfg.Worker.Workers, cfg.Worker.QueueSize, log)
	for _, c := range pool.Metrics().Collectors() {
		if err := prometheus.Register(c); err != nil {
			log.Warn("register worker metric", zap.Error(err))
		}
	}
	shutdownPool := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pool.Shutdown(sctx); err != nil {
			log.Warn("worker pool shutdown", zap.Error(err))
		}
	}

	app := &App{
		Config: cfg,
		Log:    log,
		Store:  st,
		Cipher: cipher,
		Dial: func(target string) (ssh.Runner, error) {
			return dialSSH(target, key)
		},
		Audit:   audit.NewRecorder(st, log),
		Pool:    pool,
		closers: []func(){shutdownPool, closeStore, func() { _ = log.Sync() }},
	}
	return app, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	for _, closer := range a.closers {
		closer()
	}
}

// Cluster dials a host and returns the cluster adapter over it.
func (a *App) Cluster(host string) (*kube.Adapter, error) {
	runner, err := a.Dial(host)
	if err != nil {
		return nil, err
	}
	return kube.New(runner, ""), nil
}

// Secrets wires the secret reconciliation service.
func (a *App) Secrets() *secrets.Service {
	connect := func(host string) (secrets.Cluster, error) {
		return a.Cluster(host)
	}
	return secrets.NewService(a.Store, a.Cipher, connect, a.Audit, a.Log)
}

// Pipeline wires the deploy pipeline for synchronous CLI execution.
func (a *App) Pipeline() *deploy.Pipeline {
	connect := func(host string) (deploy.Cluster, error) {
		return a.Cluster(host)
	}
	p := deploy.NewPipeline(a.Store, a.Cipher, connect, newDNSClient, a.Audit, a.Pool, nil, a.Log)
	p.StrictMigrations = a.Config.Deploy.StrictMigrations
	p.Registry = a.Config.Registry.Host
	return p
}

// Project resolves a project by org and slug.
func (a *App) Project(ctx context.Context, orgID int64, slug string) (*store.Project, error) {
	project, err := a.Store.GetProjectBySlug(ctx, orgID, slug)
	if err != nil {
		return nil, fmt.Errorf("project %q in org %d: %w", slug, orgID, err)
	}
	return project, nil
}

// ProjectServer resolves the server a project is assigned to.
func (a *App) ProjectServer(ctx context.Context, project *store.Project) (*store.Server, error) {
	if project.ServerID == nil {
		return nil, fmt.Errorf("project %q has no server assigned", project.Slug)
	}
	server, err := a.Store.GetServer(ctx, *project.ServerID)
	if err != nil {
		return nil, err
	}
	if server.Host == "" {
		return nil, fmt.Errorf("server %d has no host", server.ID)
	}
	return server, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
