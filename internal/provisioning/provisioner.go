package provisioning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imamik/atlas/internal/audit"
	"github.com/imamik/atlas/internal/crypto"
	"github.com/imamik/atlas/internal/locks"
	"github.com/imamik/atlas/internal/platform/ssh"
	"github.com/imamik/atlas/internal/store"
)

const (
	probeScript = `echo ok`
	infoScript  = `echo $(nproc) vCPU / $(free -h | awk '/Mem/{print $2}') RAM / $(df -h / | awk 'NR==2{print $4}') free`
	// ipScript falls back to the first local address when the host has no
	// outbound route to the echo service.
	ipScript         = `curl -s --max-time 5 ifconfig.me 2>/dev/null || hostname -I | awk '{print $1}'`
	kubeconfigScript = `cat /etc/rancher/k3s/k3s.yaml`
)

// Options select what one provisioning run installs.
type Options struct {
	ServerID int64
	Domain   string
	PhaseOptions
}

// Provisioner drives the server provisioning state machine.
type Provisioner struct {
	store  store.Store
	cipher *crypto.Cipher
	dial   ssh.DialFunc
	audit  *audit.Recorder
	locks  *locks.Keyed
	log    *zap.Logger
}

// NewProvisioner wires the provisioner. A nil logger falls back to
// zap.NewNop.
func NewProvisioner(st store.Store, cipher *crypto.Cipher, dial ssh.DialFunc, rec *audit.Recorder, keyed *locks.Keyed, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	if keyed == nil {
		keyed = locks.New()
	}
	return &Provisioner{store: st, cipher: cipher, dial: dial, audit: rec, locks: keyed, log: log}
}

// Provision runs the full state machine for one server. On failure the
// server row ends in status=error with the failing phase's detail in meta;
// on success it ends online with ip, encrypted kubeconfig, and host info.
// Runs for the same server are serialized.
func (p *Provisioner) Provision(ctx context.Context, opts Options, observer Observer) error {
	release, err := p.locks.Acquire(ctx, fmt.Sprintf("server:%d", opts.ServerID))
	if err != nil {
		return err
	}
	defer release()

	server, err := p.store.GetServer(ctx, opts.ServerID)
	if err != nil {
		return fmt.Errorf("load server %d: %w", opts.ServerID, err)
	}

	runID := uuid.NewString()
	p.log.Info("provisioning started",
		zap.String("run_id", runID),
		zap.Int64("server_id", server.ID),
		zap.String("domain", opts.Domain))

	if err := p.provision(ctx, server, opts, observer, runID); err != nil {
		p.markFailed(ctx, server, err)
		return err
	}
	return nil
}

func (p *Provisioner) provision(ctx context.Context, server *store.Server, opts Options, observer Observer, runID string) error {
	runner, err := p.dial(server.Host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", server.Host, err)
	}
	defer func() { _ = runner.Close() }()

	pctx := NewContext(ctx, runner, opts.Domain, observer)

	// Probe before touching anything.
	probe, err := runner.Run(ctx, probeScript)
	if err != nil || !probe.OK {
		return fmt.Errorf("SSH failed: %s", remoteDetail(probe, err))
	}

	info, err := runner.Run(ctx, infoScript)
	if err != nil {
		return fmt.Errorf("host info: %w", err)
	}
	pctx.State.Info = strings.TrimSpace(info.Stdout)
	pctx.Observer.Printf("%s", pctx.State.Info)

	ipRes, err := runner.Run(ctx, ipScript)
	if err != nil || !ipRes.OK {
		return fmt.Errorf("discover public IP: %s", remoteDetail(ipRes, err))
	}
	pctx.State.IP = strings.TrimSpace(ipRes.Stdout)
	if pctx.State.IP == "" {
		return fmt.Errorf("discover public IP: empty result")
	}

	server.IP = pctx.State.IP
	server.Status = store.ServerProvisioning
	if err := p.store.UpdateServer(ctx, server); err != nil {
		return fmt.Errorf("mark provisioning: %w", err)
	}

	if err := RunPhases(pctx, Phases(opts.PhaseOptions)); err != nil {
		return err
	}

	kc, err := runner.Run(ctx, kubeconfigScript)
	if err != nil || !kc.OK {
		return fmt.Errorf("fetch kubeconfig: %s", remoteDetail(kc, err))
	}
	// The k3s kubeconfig points at the loopback address; rewrite it so the
	// control plane can reach the API server remotely.
	pctx.State.Kubeconfig = strings.ReplaceAll(kc.Stdout, "127.0.0.1", pctx.State.IP)

	kubeconfigEnc, err := p.cipher.EncryptString(pctx.State.Kubeconfig)
	if err != nil {
		return fmt.Errorf("encrypt kubeconfig: %w", err)
	}

	server.Status = store.ServerOnline
	server.KubeconfigEnc = kubeconfigEnc
	server.Meta = map[string]string{
		"provisionedAt": time.Now().UTC().Format(time.RFC3339),
		"info":          pctx.State.Info,
		"runId":         runID,
	}
	if err := p.store.UpdateServer(ctx, server); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}

	p.audit.Record(ctx, store.AuditEntry{
		OrgID:        server.OrgID,
		Action:       audit.ActionServerProvisioned,
		ResourceType: "server",
		ResourceID:   server.ID,
		Meta:         map[string]any{"ip": pctx.State.IP, "info": pctx.State.Info, "runId": runID},
	})

	pctx.Observer.Printf("Server online")
	return nil
}

func (p *Provisioner) markFailed(ctx context.Context, server *store.Server, cause error) {
	server.Status = store.ServerError
	server.Meta = map[string]string{"error": cause.Error()}
	if err := p.store.UpdateServer(ctx, server); err != nil {
		p.log.Error("record provisioning failure",
			zap.Int64("server_id", server.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

func remoteDetail(res ssh.Result, err error) string {
	if detail := strings.TrimSpace(res.Stderr); detail != "" {
		return detail
	}
	if detail := strings.TrimSpace(res.Stdout); detail != "" {
		return detail
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}
