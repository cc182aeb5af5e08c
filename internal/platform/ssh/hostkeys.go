package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// errHostKeyMismatch aborts dial retries: a changed host key never resolves
// by retrying.
var errHostKeyMismatch = errors.New("host key mismatch")

// processKeys is the process-wide trust-on-first-use set shared by all
// clients that do not bring their own.
var processKeys = NewKnownKeys()

// KnownKeys is a concurrency-safe trust-on-first-use host key set.
type KnownKeys struct {
	mu   sync.Mutex
	keys map[string][]byte
}

// NewKnownKeys returns an empty key set.
func NewKnownKeys() *KnownKeys {
	return &KnownKeys{keys: make(map[string][]byte)}
}

// Callback returns an ssh.HostKeyCallback that pins the first key presented
// per host and rejects any later key that differs.
func (k *KnownKeys) Callback() ssh.HostKeyCallback {
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		k.mu.Lock()
		defer k.mu.Unlock()

		wire := key.Marshal()
		known, ok := k.keys[hostname]
		if !ok {
			k.keys[hostname] = wire
			return nil
		}
		if !bytes.Equal(known, wire) {
			return fmt.Errorf("%w for %s: presented %s key differs from pinned key",
				errHostKeyMismatch, hostname, key.Type())
		}
		return nil
	}
}
