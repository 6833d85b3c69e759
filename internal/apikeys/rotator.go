package apikeys

import (
	"context"
	"errors"
	"sync"
)

// ErrNoKeys is returned when the credential pool is empty. An empty pool is
// a distinct configuration error, never treated as index 0.
var ErrNoKeys = errors.New("no API keys configured")

// Store persists the credential pool as a whole-list replace operation.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, keys []string) error
}

// Rotator holds an ordered pool of provider API keys and a rotation cursor.
// Providers throttle per key; rotating lets a caller continue on a different
// credential without surfacing a hard failure while any key remains viable.
//
// The cursor is owned by this instance and guarded by a mutex so concurrent
// callers keep round-robin fairness.
type Rotator struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewRotator creates a rotator over the given ordered key list.
func NewRotator(keys []string) *Rotator {
	return &Rotator{keys: append([]string(nil), keys...)}
}

// Keys returns a copy of the current ordered credential list.
func (r *Rotator) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// Len returns the pool size.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Current returns the key at cursor mod len(keys), or ErrNoKeys for an
// empty pool.
func (r *Rotator) Current() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return "", ErrNoKeys
	}
	return r.keys[r.cursor%len(r.keys)], nil
}

// Advance moves the cursor to the next key, wrapping around. No-op on an
// empty pool.
func (r *Rotator) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return
	}
	r.cursor = (r.cursor + 1) % len(r.keys)
}

// Replace swaps in a new key list and resets the cursor to the first key.
func (r *Rotator) Replace(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append([]string(nil), keys...)
	r.cursor = 0
}
