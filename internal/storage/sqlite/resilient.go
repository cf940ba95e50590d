package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps a Store with CircuitBreaker + RetryOnDBLock so
// transient SQLite failures (database-is-locked under cross-process write
// contention, I/O hiccups) are retried and persistent failure trips the
// breaker instead of hammering the disk.
//
// Domain outcomes (not-found, conflicts, policy denials) pass through
// untouched and never count as breaker failures.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient creates a ResilientStore with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker creates a ResilientStore with a custom circuit breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// CircuitBreakerState returns the current state of the circuit breaker as a string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

func (r *ResilientStore) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return r.execute(ctx, func() error { return r.inner.View(ctx, fn) })
}

// Update retries the whole transaction closure: every failed attempt was
// rolled back, so fn must tolerate re-running (closures that only write tx
// state and their own result variables are fine).
func (r *ResilientStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return r.execute(ctx, func() error { return r.inner.Update(ctx, fn) })
}

func (r *ResilientStore) Close() error { return r.inner.Close() }

func (r *ResilientStore) execute(ctx context.Context, op func() error) error {
	var opErr error
	cbErr := r.cb.Execute(func() error {
		opErr = RetryOnDBLock(ctx, op)
		if opErr != nil && isDomainError(opErr) {
			// A business outcome, not store trouble.
			return nil
		}
		return opErr
	})
	if opErr != nil {
		return opErr
	}
	return cbErr
}

// isDomainError reports whether err is an expected coordination outcome
// rather than a storage failure.
func isDomainError(err error) bool {
	for _, sentinel := range []error{
		core.ErrNotFound, core.ErrDuplicate, core.ErrUnknownAgent,
		core.ErrNotOwner, core.ErrNotRecipient, core.ErrAlreadyReleased,
		core.ErrLinkBlocked, core.ErrAlreadyDecided,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	var (
		validation *core.ValidationError
		conflict   *core.ConflictError
		denied     *core.DeliveryDeniedError
	)
	return errors.As(err, &validation) || errors.As(err, &conflict) || errors.As(err, &denied)
}
