// Package lock provides the distributed per-(user, symbol) mutex that keeps
// at most one saga in flight per position key across all instances.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fundingarb/basisbot/internal/domain"
)

const (
	// DefaultOpenTTL bounds a crashed open-saga holder.
	DefaultOpenTTL = 30 * time.Second
	// DefaultCloseTTL is longer because closing waits on price resolution
	// and conditional-order cancellation on both legs.
	DefaultCloseTTL = 60 * time.Second
)

// Service acquires and releases position locks with compare-and-delete
// release semantics. If the lock store is unreachable the service degrades
// to a logged no-op so a single-instance deployment keeps trading; the
// degraded LockContext carries an empty token and Release ignores it.
type Service struct {
	store  domain.LockStore
	logger *slog.Logger
}

func NewService(store domain.LockStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "position_lock")}
}

// Key builds the canonical lock key for a position.
func Key(userID, symbol string) string {
	return "position:" + userID + ":" + symbol
}

// Acquire obtains the lock for (userID, symbol) or fails with
// domain.ErrLockConflict when another saga holds it. A store outage is the
// documented degraded path: the returned context is a no-op marker, not an
// error.
func (s *Service) Acquire(ctx context.Context, userID, symbol string, ttl time.Duration) (domain.LockContext, error) {
	key := Key(userID, symbol)
	token := uuid.New().String()

	ok, err := s.store.SetIfNotExists(ctx, key, token, ttl)
	if err != nil {
		s.logger.Error("lock store unavailable, proceeding without lock",
			"key", key, "error", err)
		return domain.LockContext{Key: key, AcquiredAt: time.Now()}, nil
	}
	if !ok {
		return domain.LockContext{}, fmt.Errorf("acquire %s: %w", key, domain.ErrLockConflict)
	}

	return domain.LockContext{Key: key, Token: token, AcquiredAt: time.Now()}, nil
}

// Release deletes the lock if the token still matches what is stored. An
// expired or re-acquired lock is a no-op, not an error. Release uses its own
// timeout so the lock is freed even when the saga's context is already done.
func (s *Service) Release(lc domain.LockContext) bool {
	if !lc.Held() {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.store.DeleteIfMatches(ctx, lc.Key, lc.Token)
	if err != nil {
		s.logger.Error("lock release failed, key expires by TTL",
			"key", lc.Key, "error", err)
		return false
	}
	if !ok {
		s.logger.Warn("lock already expired at release", "key", lc.Key)
	}
	return ok
}

// WithLock acquires the lock, runs fn, and releases on every exit path.
func (s *Service) WithLock(ctx context.Context, userID, symbol string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lc, err := s.Acquire(ctx, userID, symbol, ttl)
	if err != nil {
		return err
	}
	defer s.Release(lc)
	return fn(ctx)
}
