package usecase

import (
	"context"
	"time"
)

// TaskRunner executes claimed work off the polling goroutine. Submit must not
// block; it returns domain.ErrQueueFull when no worker is free.
type TaskRunner interface {
	Submit(task func(ctx context.Context) error) error
	Free() int
}

// terminalWriteTimeout bounds the final store write after a provider call, which
// runs on a context detached from shutdown cancellation.
const terminalWriteTimeout = 10 * time.Second

// terminalRetryInterval is the first pause before a failed terminal write is retried.
const terminalRetryInterval = 100 * time.Millisecond

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}
