// Package lock serializes message handling per conversation identity.
//
// The durable lock is a row in the store's locks table, claimed by a
// conditional insert and released by deleting the row with the holder's
// token. When the store cannot be reached the manager degrades to a
// process-local keyed lock, so a single instance stays correct while the
// backend is down. A store that answers but is contended is retried until the
// timeout and never triggers the fallback.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/telemetry"
)

// Backend is the durable lock table.
type Backend interface {
	TryLock(ctx context.Context, key, token string, staleBefore time.Time) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// Token identifies one acquisition. The zero Token holds nothing.
type Token struct {
	Value string
	Local bool
}

// Options configures a Manager.
type Options struct {
	// Timeout bounds Acquire; contention past it yields storage.ErrBusy.
	Timeout time.Duration
	// StaleAfter lets a new holder take over a row whose owner died.
	StaleAfter time.Duration
	// ReleaseTimeout bounds the unlock call.
	ReleaseTimeout time.Duration
	Logger         *zap.Logger
}

// Manager grants exclusive per-key access.
type Manager struct {
	backend Backend
	local   *localTable
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	tel       *telemetry.Instruments
	fallbacks metric.Int64Counter
}

var errHeld = errors.New("lock held")

// New creates a Manager. A nil backend means local locking only.
func New(backend Backend, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		backend:   backend,
		local:     newLocalTable(),
		opts:      opts,
		log:       log,
		now:       time.Now,
		tel:       telemetry.NewInstruments("lock"),
		fallbacks: telemetry.Counter("lock", "chief.lock.fallbacks", "Acquisitions served by the process-local lock"),
	}
}

func (m *Manager) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 0 // bounded by the context deadline
	return bo
}

// Acquire waits up to the configured timeout for key. Contention past the
// timeout returns storage.ErrBusy; the caller should reply "try again" rather
// than queue.
func (m *Manager) Acquire(ctx context.Context, key string) (tok Token, err error) {
	if key == "" {
		return Token{}, fmt.Errorf("lock: empty key")
	}
	ctx, span, start := m.tel.Start(ctx, "lock.acquire")
	defer func() {
		m.tel.End(ctx, span, start, err, attribute.Bool("lock.local", tok.Local))
	}()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	token := uuid.NewString()
	if m.backend == nil {
		return m.acquireLocal(ctx, key, token)
	}

	var backendErr error
	err = backoff.Retry(func() error {
		ok, err := m.backend.TryLock(ctx, key, token, m.now().Add(-m.opts.StaleAfter))
		switch {
		case err == nil && ok:
			return nil
		case err == nil:
			return errHeld
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, storage.ErrBusy):
			// The table itself is contended; the row may still be free.
			return err
		}
		backendErr = err
		return backoff.Permanent(err)
	}, backoff.WithContext(m.newBackoff(), ctx))

	switch {
	case err == nil:
		return Token{Value: token}, nil
	case backendErr != nil && unreachable(backendErr):
		m.log.Warn("durable lock unavailable, falling back to local lock",
			zap.String("key", key), zap.Error(backendErr))
		m.fallbacks.Add(ctx, 1)
		return m.acquireLocal(ctx, key, token)
	case backendErr != nil:
		return Token{}, fmt.Errorf("lock %s: %w", key, backendErr)
	default:
		return Token{}, fmt.Errorf("lock %s: %w", key, storage.ErrBusy)
	}
}

// unreachable reports a backend that could not be reached at all. Only then
// is a process-local lock a safe substitute.
func unreachable(err error) bool {
	return errors.Is(err, storage.ErrUnavailable) || errors.Is(err, storage.ErrTimeout)
}

func (m *Manager) acquireLocal(ctx context.Context, key, token string) (Token, error) {
	err := backoff.Retry(func() error {
		if m.local.tryLock(key, token) {
			return nil
		}
		return errHeld
	}, backoff.WithContext(m.newBackoff(), ctx))
	if err != nil {
		return Token{}, fmt.Errorf("lock %s: %w", key, storage.ErrBusy)
	}
	return Token{Value: token, Local: true}, nil
}

// Release gives key back. It is idempotent, never panics and only logs on
// failure; a leaked durable row is reclaimed once it is stale.
func (m *Manager) Release(ctx context.Context, key string, tok Token) {
	if tok.Value == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("lock release panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()

	if tok.Local {
		m.local.unlock(key, tok.Value)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ReleaseTimeout)
	defer cancel()
	if err := m.backend.Unlock(ctx, key, tok.Value); err != nil {
		m.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
	}
}

// With runs fn while holding key.
func (m *Manager) With(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	tok, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer m.Release(ctx, key, tok)
	return fn(ctx)
}
