// Package lock implements per-loan mutual exclusion, in-process or across instances via Redis.
package lock

import (
	"context"
	"fmt"
	"sync"

	lockDomain "loan-lifecycle-engine/internal/domain/lock"
)

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex hands out one mutex per key. Entries are dropped once nobody holds or waits
// on them, so the map stays bounded by the number of loans in flight.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", lockDomain.ErrNotAcquired, key, err)
	}
	k.mu.Lock()
	e, ok := k.keys[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.keys[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%w: %s: %w", lockDomain.ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.keys, key)
	}
}

// size is the number of live keys.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}
