package provisioning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/atlas/internal/platform/ssh"
)

// Phase is one provisioning step. Phases run sequentially; the first failure
// aborts the run.
type Phase interface {
	Name() string
	Run(ctx *Context) error
}

// State holds the shared results of provisioning phases. It is progressively
// populated and read by the provisioner after the phases complete.
type State struct {
	// IP is the host's discovered public IPv4.
	IP string
	// Info is the one-line hardware summary from the host probe.
	Info string
	// Kubeconfig is the captured k3s kubeconfig, API endpoint rewritten to
	// the public IP.
	Kubeconfig string
}

// Context wraps the dependencies and state shared by all phases of one run.
type Context struct {
	context.Context
	Runner   ssh.Runner
	Domain   string
	State    *State
	Observer Observer
}

// NewContext creates a phase context over one host connection.
func NewContext(ctx context.Context, runner ssh.Runner, domain string, observer Observer) *Context {
	if observer == nil {
		observer = NewConsoleObserver()
	}
	return &Context{
		Context:  ctx,
		Runner:   runner,
		Domain:   domain,
		State:    &State{},
		Observer: observer,
	}
}

// RunPhases executes all phases sequentially, aborting on the first failure.
func RunPhases(ctx *Context, phases []Phase) error {
	start := time.Now()
	ctx.Observer.Printf("Starting provisioning with %d phases...", len(phases))

	for i, phase := range phases {
		phaseStart := time.Now()
		name := fmt.Sprintf("%s (%d/%d)", phase.Name(), i+1, len(phases))

		ctx.Observer.Event(Event{Type: EventPhaseStarted, Phase: phase.Name(), Timestamp: phaseStart})

		if err := phase.Run(ctx); err != nil {
			ctx.Observer.Event(Event{Type: EventPhaseFailed, Phase: phase.Name(), Message: err.Error(), Timestamp: time.Now()})
			return fmt.Errorf("%s phase failed: %w", phase.Name(), err)
		}

		ctx.Observer.Event(Event{Type: EventPhaseCompleted, Phase: phase.Name(), Timestamp: time.Now()})
		ctx.Observer.Printf("[%s] completed in %v", name, time.Since(phaseStart).Round(time.Millisecond))
	}

	ctx.Observer.Printf("Provisioning completed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

// scriptPhase runs one remote script and fails on a non-zero exit.
type scriptPhase struct {
	name   string
	script func(ctx *Context) string
}

// Name implements Phase.
func (p *scriptPhase) Name() string { return p.name }

// Run implements Phase.
func (p *scriptPhase) Run(ctx *Context) error {
	res, err := ctx.Runner.Run(ctx, p.script(ctx))
	if err != nil {
		return err
	}
	if !res.OK {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("%s", detail)
	}
	return nil
}
