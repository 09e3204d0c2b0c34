package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/pkg/retry"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	PoolSize     int
}

// NewRedisClient builds the process-wide client and pings it with the retry
// policy. A failed ping is logged, not returned: the cache is optional.
func NewRedisClient(ctx context.Context, opts RedisOptions, policy retry.Policy, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
	})

	err := retry.Do(ctx, policy, func(attempt int) error {
		err := client.Ping(ctx).Err()
		if err != nil {
			logger.Warn("Failed to connect to Redis, retrying...", zap.Error(err), zap.Int("attempt", attempt))
		}
		return err
	})
	if err != nil {
		logger.Error("Redis is unreachable, cache reads will fall back to the store", zap.Error(err), zap.String("addr", opts.Addr))
		return client
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr))
	return client
}

type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete is idempotent: deleting an absent key succeeds.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Error("Failed to close Redis client", zap.Error(err))
		return err
	}
	return nil
}
