package sms

import (
	"context"
	"hash/fnv"

	"go.uber.org/zap"
)

// ThreadService assigns stable thread identifiers, one per address.
// The store-backed implementation lives in internal/store.
type ThreadService interface {
	GetOrCreateThreadID(ctx context.Context, address string) (int64, error)
}

// Resolver obtains a thread identifier for an address, falling back to a
// derived identifier when the thread service fails so that message
// processing is never blocked on thread assignment.
type Resolver struct {
	svc    ThreadService
	logger *zap.Logger
}

// NewResolver creates a thread resolver.
func NewResolver(svc ThreadService, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{svc: svc, logger: logger}
}

// Resolve returns the thread identifier for an address. Never fails: on a
// thread-service error it returns FallbackThreadID and logs the condition.
func (r *Resolver) Resolve(ctx context.Context, address string) int64 {
	id, err := r.svc.GetOrCreateThreadID(ctx, address)
	if err == nil {
		return id
	}
	fallback := FallbackThreadID(address)
	r.logger.Warn("thread service failed, using fallback thread id",
		zap.String("address", address),
		zap.Int64("thread_id", fallback),
		zap.Error(err))
	return fallback
}

// FallbackThreadID derives a deterministic thread identifier from the
// address alone (FNV-1a, masked non-negative). Repeatable for the same
// address, but not guaranteed collision-free across addresses nor stable
// against identifiers minted by the thread service. Known limitation.
func FallbackThreadID(address string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(address))
	return int64(h.Sum64() & (1<<63 - 1))
}
