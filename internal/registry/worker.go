package registry

import (
	"context"

	"github.com/google/uuid"
)

// WorkerID identifies one concurrent unit of work, typically a scenario.
type WorkerID string

type workerKey struct{}

// NewWorkerID returns a random worker identity.
func NewWorkerID() WorkerID {
	return WorkerID(uuid.NewString())
}

// WithWorker returns a context carrying the worker identity.
func WithWorker(ctx context.Context, id WorkerID) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerFromContext returns the worker identity stored in ctx.
func WorkerFromContext(ctx context.Context) (WorkerID, bool) {
	id, ok := ctx.Value(workerKey{}).(WorkerID)
	return id, ok && id != ""
}
