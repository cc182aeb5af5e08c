// Package locks provides keyed in-process advisory locks. The deploy
// pipeline serializes per project and the provisioner per server; two keys
// never contend with each other.
package locks

import (
	"context"
	"fmt"
	"sync"
)

// Keyed hands out one mutex per key. The zero value is not usable; call New.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// New returns an empty lock set.
func New() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// release function must be called exactly once.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	e := k.ref(key)
	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				k.unref(key)
			})
		}, nil
	case <-ctx.Done():
		k.unref(key)
		return nil, fmt.Errorf("acquire lock %q: %w", key, ctx.Err())
	}
}

// TryAcquire takes the lock for key without blocking. It returns false when
// the lock is already held.
func (k *Keyed) TryAcquire(key string) (func(), bool) {
	e := k.ref(key)
	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				k.unref(key)
			})
		}, true
	default:
		k.unref(key)
		return nil, false
	}
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
