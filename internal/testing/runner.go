package testing

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/imamik/atlas/internal/platform/ssh"
)

// FakeRunner is a scripted implementation of ssh.Runner. Rules are matched
// against the script by substring, first match wins; unmatched scripts
// succeed with empty output. Every script is recorded for assertions.
type FakeRunner struct {
	mu      sync.Mutex
	rules   []runnerRule
	calls   []string
	streams []string
	closed  bool
}

type runnerRule struct {
	match  string
	result ssh.Result
	err    error
}

// NewFakeRunner returns an empty fake where every script succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On registers a scripted result for any script containing match.
func (f *FakeRunner) On(match string, result ssh.Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, runnerRule{match: match, result: result})
	return f
}

// OnError registers a transport error for any script containing match.
func (f *FakeRunner) OnError(match string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, runnerRule{match: match, result: ssh.Result{OK: false, Stderr: err.Error()}, err: err})
	return f
}

// Run implements ssh.Runner.
func (f *FakeRunner) Run(_ context.Context, script string) (ssh.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, script)
	for _, r := range f.rules {
		if strings.Contains(script, r.match) {
			return r.result, r.err
		}
	}
	return ssh.Result{OK: true}, nil
}

// Stream implements ssh.Runner. The stream carries the result Stdout of the
// first matching rule, or empty output.
func (f *FakeRunner) Stream(_ context.Context, command string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, command)
	for _, r := range f.rules {
		if strings.Contains(command, r.match) {
			if r.err != nil {
				return nil, r.err
			}
			return io.NopCloser(strings.NewReader(r.result.Stdout)), nil
		}
	}
	return io.NopCloser(strings.NewReader("")), nil
}

// Close implements ssh.Runner.
func (f *FakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns every script passed to Run, in order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Streams returns every command passed to Stream, in order.
func (f *FakeRunner) Streams() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.streams...)
}

// Closed reports whether Close was called.
func (f *FakeRunner) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CallContaining returns the first recorded script containing match, or "".
func (f *FakeRunner) CallContaining(match string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Contains(c, match) {
			return c
		}
	}
	return ""
}

// OKResult builds a successful result with the given stdout.
func OKResult(stdout string) ssh.Result {
	return ssh.Result{OK: true, Stdout: stdout}
}

// FailResult builds a failed result with the given stderr.
func FailResult(stderr string) ssh.Result {
	return ssh.Result{OK: false, Stderr: stderr}
}
