package tx

import (
	"context"
	"sync"
)

// Runner executes fn as one atomic unit. The PostgreSQL implementation
// (internal/platform/postgres) wraps fn in a database transaction; the
// in-process implementation serializes callers behind a mutex so memory
// stores see the same all-or-nothing discipline in tests and dev mode.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InProcess is the coarse in-memory Runner. Nested RunInTx calls join
// the outer unit instead of deadlocking on the mutex.
type InProcess struct {
	mu sync.Mutex
}

func NewInProcess() *InProcess {
	return &InProcess{}
}

type inProcessKey struct{}

func (r *InProcess) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Value(inProcessKey{}) != nil {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(context.WithValue(ctx, inProcessKey{}, struct{}{}))
}
