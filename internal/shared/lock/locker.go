// Package lock provides per-key leases used to serialize mutations of one
// roster across requests and processes.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired 在等待时间内未能获得锁
var ErrNotAcquired = errors.New("lock not acquired")

// Lease 已持有的锁
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out exclusive leases keyed by string. Acquire blocks for at
// most wait and returns ErrNotAcquired when the key stays held.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error)
}
