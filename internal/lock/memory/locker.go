// Package memory provides an in-process Locker for tests and single-process runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

type holder struct {
	token   uint64
	expires time.Time
}

// Locker keeps leases in a map and reads time from the injected clock.
type Locker struct {
	mu    sync.Mutex
	clock crawler.Clock
	held  map[string]holder
	next  uint64
}

// New creates a Locker.
func New(clock crawler.Clock) *Locker {
	return &Locker{
		clock: clock,
		held:  make(map[string]holder),
	}
}

// TryAcquire grants the lease when the key is free or its previous lease has ended.
func (l *Locker) TryAcquire(_ context.Context, key string, ttl time.Duration) (crawler.Lease, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lock ttl must be > 0, got %s", ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	l.next++
	l.held[key] = holder{token: l.next, expires: now.Add(ttl)}
	return &lease{locker: l, key: key, token: l.next}, true, nil
}

// Held reports whether key currently has a live lease.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.held[key]
	return ok && l.clock.Now().Before(h.expires)
}

type lease struct {
	locker *Locker
	key    string
	token  uint64
}

func (l *lease) Key() string {
	return l.key
}

func (l *lease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if h, ok := l.locker.held[l.key]; ok && h.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
