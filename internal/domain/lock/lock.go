package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when ctx ends before the lock could be taken.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serialises work on a single key (a loan id) for the whole transition.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
