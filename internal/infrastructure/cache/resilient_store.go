package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"
	"github.com/niciki/system-design/internal/pkg/circuit"

	"go.uber.org/zap"
)

// ResilientStore guards a CacheStore with a circuit breaker so that an
// unreachable cache costs one fast error instead of a network timeout.
// Get and Set are skipped while the circuit is open. Delete is always
// attempted: a dropped invalidation would leave a stale entry behind.
type ResilientStore struct {
	inner   repository.CacheStore
	breaker *circuit.Breaker
	logger  *zap.Logger
}

func NewResilientStore(inner repository.CacheStore, breaker *circuit.Breaker, logger *zap.Logger) *ResilientStore {
	breaker.OnStateChange(func(from, to circuit.State) {
		logger.Warn("Cache circuit state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	})
	return &ResilientStore{inner: inner, breaker: breaker, logger: logger}
}

func (s *ResilientStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrCacheUnavailable, err)
	}
	data, err := s.inner.Get(ctx, key)
	s.report(err)
	return data, err
}

func (s *ResilientStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrCacheUnavailable, err)
	}
	err := s.inner.Set(ctx, key, value, ttl)
	s.report(err)
	return err
}

func (s *ResilientStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	s.report(err)
	return err
}

func (s *ResilientStore) report(err error) {
	if err == nil || errors.Is(err, model.ErrCacheMiss) {
		s.breaker.Success()
		return
	}
	s.breaker.Failure()
}
