package reliability

import (
	"context"
	"errors"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"
	"zonecast/pkg/circuitbreaker"
	"zonecast/pkg/retry"

	"go.uber.org/zap"
)

// guard runs repository calls through retry and a circuit breaker so a
// struggling redis does not stall every signaling request. Domain
// outcomes (user not found) are results, not infrastructure failures,
// and never trip the breaker.
type guard struct {
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

func newGuard(name string, logger *zap.SugaredLogger) *guard {
	g := &guard{
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
	g.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("repository circuit breaker state changed",
			"repository", name,
			"from", from.String(),
			"to", to.String(),
		)
	})
	return g
}

func (g *guard) run(ctx context.Context, fn func() error) error {
	var opErr error
	err := retry.Retry(ctx, g.retryCfg, func() error {
		return g.breaker.Execute(ctx, func() error {
			opErr = fn()
			if errors.Is(opErr, domain.ErrUserNotFound) {
				return nil
			}
			return opErr
		})
	})
	if err != nil {
		return err
	}
	return opErr
}

// GuardedRosterRepository decorates a roster repository with the guard.
type GuardedRosterRepository struct {
	inner ports.RosterRepository
	guard *guard
}

func NewGuardedRosterRepository(inner ports.RosterRepository, logger *zap.SugaredLogger) *GuardedRosterRepository {
	return &GuardedRosterRepository{inner: inner, guard: newGuard("roster", logger)}
}

func (r *GuardedRosterRepository) Upsert(ctx context.Context, roomID domain.RoomID, entry domain.RosterEntry) error {
	return r.guard.run(ctx, func() error {
		return r.inner.Upsert(ctx, roomID, entry)
	})
}

func (r *GuardedRosterRepository) Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return r.guard.run(ctx, func() error {
		return r.inner.Remove(ctx, roomID, userID)
	})
}

func (r *GuardedRosterRepository) Get(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.RosterEntry, error) {
	var entry domain.RosterEntry
	err := r.guard.run(ctx, func() error {
		var innerErr error
		entry, innerErr = r.inner.Get(ctx, roomID, userID)
		return innerErr
	})
	return entry, err
}

func (r *GuardedRosterRepository) List(ctx context.Context, roomID domain.RoomID) ([]domain.RosterEntry, error) {
	var entries []domain.RosterEntry
	err := r.guard.run(ctx, func() error {
		var innerErr error
		entries, innerErr = r.inner.List(ctx, roomID)
		return innerErr
	})
	return entries, err
}

// GuardedMediaStateRepository decorates a media state repository with
// the guard. All operations are idempotent, so retrying is safe.
type GuardedMediaStateRepository struct {
	inner ports.MediaStateRepository
	guard *guard
}

func NewGuardedMediaStateRepository(inner ports.MediaStateRepository, logger *zap.SugaredLogger) *GuardedMediaStateRepository {
	return &GuardedMediaStateRepository{inner: inner, guard: newGuard("media_state", logger)}
}

func (r *GuardedMediaStateRepository) Set(ctx context.Context, key domain.RoomKey, state domain.MediaState) error {
	return r.guard.run(ctx, func() error {
		return r.inner.Set(ctx, key, state)
	})
}

func (r *GuardedMediaStateRepository) Remove(ctx context.Context, key domain.RoomKey, userID domain.UserID) error {
	return r.guard.run(ctx, func() error {
		return r.inner.Remove(ctx, key, userID)
	})
}

func (r *GuardedMediaStateRepository) List(ctx context.Context, key domain.RoomKey) ([]domain.MediaState, error) {
	var states []domain.MediaState
	err := r.guard.run(ctx, func() error {
		var innerErr error
		states, innerErr = r.inner.List(ctx, key)
		return innerErr
	})
	return states, err
}
