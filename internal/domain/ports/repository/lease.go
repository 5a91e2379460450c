package repository

import (
	"context"
	"time"
)

// Locker grants short leases across service instances. A lease is an
// optimization only; callers must stay correct without it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
