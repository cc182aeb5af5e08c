// Package kube is the cluster adapter: it drives the k3s cluster on a managed
// host by running kubectl through the remote executor. There is no API-server
// credential on the control plane; the only access path is SSH to the host,
// where the k3s kubeconfig lives.
package kube

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/imamik/atlas/internal/platform/ssh"
)

// DefaultKubeconfig is the kubeconfig path on a k3s host.
const DefaultKubeconfig = "/etc/rancher/k3s/k3s.yaml"

const defaultRolloutTimeout = "120s"

var (
	// dnsNameRE covers namespaces, deployments, and secret object names.
	dnsNameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	// secretKeyRE matches the keys Kubernetes accepts in secret data.
	secretKeyRE = regexp.MustCompile(`^[-._a-zA-Z0-9]+$`)
	// imageRE is deliberately narrow: registry refs our pipeline builds.
	imageRE = regexp.MustCompile(`^[a-z0-9][a-zA-Z0-9._/-]*(:[a-zA-Z0-9._-]+)?(@sha256:[a-f0-9]{64})?$`)
)

// Adapter runs kubectl operations on one host.
type Adapter struct {
	runner     ssh.Runner
	kubeconfig string
}

// New returns an adapter bound to the given runner. kubeconfig defaults to
// the k3s path when empty.
func New(runner ssh.Runner, kubeconfig string) *Adapter {
	if kubeconfig == "" {
		kubeconfig = DefaultKubeconfig
	}
	return &Adapter{runner: runner, kubeconfig: kubeconfig}
}

// Kubectl runs one kubectl invocation with the host kubeconfig exported.
func (a *Adapter) Kubectl(ctx context.Context, args string) (ssh.Result, error) {
	return a.run(ctx, "kubectl "+args)
}

// SetImage updates one container image on a deployment. Returns false when
// kubectl rejects the operation (for example the deployment does not exist).
func (a *Adapter) SetImage(ctx context.Context, namespace, deployment, container, image string) (bool, error) {
	if err := validateNames(namespace, deployment, container); err != nil {
		return false, err
	}
	if !imageRE.MatchString(image) {
		return false, fmt.Errorf("invalid image reference %q", image)
	}
	res, err := a.Kubectl(ctx, fmt.Sprintf("-n %s set image deployment/%s %s=%s", namespace, deployment, container, image))
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// Apply feeds manifests to kubectl apply over stdin. The manifest never
// touches the remote disk.
func (a *Adapter) Apply(ctx context.Context, namespace, manifestYAML string) (ssh.Result, error) {
	if err := validateNames(namespace); err != nil {
		return ssh.Result{}, err
	}
	if strings.Contains(manifestYAML, "YAML_EOF") {
		return ssh.Result{}, fmt.Errorf("manifest contains the heredoc delimiter")
	}
	script := fmt.Sprintf("cat <<'YAML_EOF' | kubectl -n %s apply -f -\n%s\nYAML_EOF", namespace, manifestYAML)
	return a.run(ctx, script)
}

// DeleteResource deletes one namespaced resource. Absence is not an error.
func (a *Adapter) DeleteResource(ctx context.Context, namespace, resource, name string) (bool, error) {
	if err := validateNames(namespace, resource, name); err != nil {
		return false, err
	}
	res, err := a.Kubectl(ctx, fmt.Sprintf("-n %s delete %s %s --ignore-not-found", namespace, resource, name))
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// RolloutStatus blocks until the deployment converges or the remote timeout
// expires. False means the rollout did not complete.
func (a *Adapter) RolloutStatus(ctx context.Context, namespace, deployment string) (bool, error) {
	if err := validateNames(namespace, deployment); err != nil {
		return false, err
	}
	res, err := a.Kubectl(ctx, fmt.Sprintf("-n %s rollout status deployment/%s --timeout=%s", namespace, deployment, defaultRolloutTimeout))
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// GetPods returns the wide pod listing for a namespace.
func (a *Adapter) GetPods(ctx context.Context, namespace string) (string, error) {
	if err := validateNames(namespace); err != nil {
		return "", err
	}
	res, err := a.Kubectl(ctx, fmt.Sprintf("-n %s get pods -o wide", namespace))
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", fmt.Errorf("get pods in %s: %s", namespace, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// SyncSecret converges the given keys into a secret object, preserving keys
// it does not manage. It patches first; only when the patch fails (secret
// absent) does it create the object with exactly the given data.
func (a *Adapter) SyncSecret(ctx context.Context, namespace, name string, data map[string]string) (bool, error) {
	if err := validateNames(namespace, name); err != nil {
		return false, err
	}
	if len(data) == 0 {
		return true, nil
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		if !secretKeyRE.MatchString(k) {
			return false, fmt.Errorf("invalid secret key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	encoded := make(map[string]string, len(data))
	for _, k := range keys {
		encoded[k] = base64.StdEncoding.EncodeToString([]byte(data[k]))
	}
	patch, err := json.Marshal(map[string]any{"data": encoded})
	if err != nil {
		return false, err
	}

	res, err := a.run(ctx, fmt.Sprintf("kubectl -n %s patch secret %s -p %s 2>/dev/null", namespace, name, shellQuote(string(patch))))
	if err != nil {
		return false, err
	}
	if res.OK {
		return true, nil
	}

	var literals strings.Builder
	for _, k := range keys {
		literals.WriteString(" --from-literal=")
		literals.WriteString(shellQuote(k + "=" + data[k]))
	}
	res, err = a.run(ctx, fmt.Sprintf("kubectl -n %s create secret generic %s%s", namespace, name, literals.String()))
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// DeleteSecretKey removes one key from a secret via a JSON patch. Returns
// false when the secret or the key is absent.
func (a *Adapter) DeleteSecretKey(ctx context.Context, namespace, name, key string) (bool, error) {
	if err := validateNames(namespace, name); err != nil {
		return false, err
	}
	if !secretKeyRE.MatchString(key) {
		return false, fmt.Errorf("invalid secret key %q", key)
	}
	patch := fmt.Sprintf(`[{"op":"remove","path":"/data/%s"}]`, key)
	res, err := a.run(ctx, fmt.Sprintf("kubectl -n %s patch secret %s --type=json -p %s", namespace, name, shellQuote(patch)))
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// LogOptions shape a StreamLogs call.
type LogOptions struct {
	// Tail limits the initial backlog. Defaults to 100 lines.
	Tail int
	// Follow keeps the stream attached to new output.
	Follow bool
}

// StreamLogs streams combined logs for all containers of a deployment. The
// stream stays live until closed when Follow is set.
func (a *Adapter) StreamLogs(ctx context.Context, namespace, deployment string, opts LogOptions) (io.ReadCloser, error) {
	if err := validateNames(namespace, deployment); err != nil {
		return nil, err
	}
	tail := opts.Tail
	if tail <= 0 {
		tail = 100
	}
	follow := ""
	if opts.Follow {
		follow = " -f"
	}
	cmd := fmt.Sprintf("export KUBECONFIG=%s; kubectl -n %s logs deployment/%s --tail=%d%s --all-containers",
		a.kubeconfig, namespace, deployment, tail, follow)
	return a.runner.Stream(ctx, cmd)
}

// Close releases the underlying connection.
func (a *Adapter) Close() error {
	return a.runner.Close()
}

func (a *Adapter) run(ctx context.Context, command string) (ssh.Result, error) {
	script := fmt.Sprintf("export KUBECONFIG=%s\n%s", a.kubeconfig, command)
	return a.runner.Run(ctx, script)
}

func validateNames(names ...string) error {
	for _, n := range names {
		if !dnsNameRE.MatchString(n) {
			return fmt.Errorf("invalid resource name %q", n)
		}
	}
	return nil
}

// shellQuote wraps s in single quotes, escaping embedded single quotes, so
// the remote shell passes it through verbatim.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
