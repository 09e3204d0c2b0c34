package usecases

import (
	"context"
	"fmt"

	"github.com/niciki/system-design/internal/domain/repository"

	"go.uber.org/zap"
)

// WarmCacheUseCase preloads the order entries of the most recently updated orders.
type WarmCacheUseCase struct {
	gateway repository.OrderGateway
	cache   repository.CacheStore
	codec   repository.OrderCodec
	ttl     CacheTTL
	logger  *zap.Logger
}

func NewWarmCacheUseCase(gateway repository.OrderGateway, cache repository.CacheStore, codec repository.OrderCodec, ttl CacheTTL, logger *zap.Logger) *WarmCacheUseCase {
	return &WarmCacheUseCase{gateway: gateway, cache: cache, codec: codec, ttl: ttl, logger: logger}
}

// Execute returns the number of orders written to the cache. Only the store
// read can fail the call; individual cache writes are skipped on error.
func (uc *WarmCacheUseCase) Execute(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	orders, err := uc.gateway.RecentOrders(ctx, limit)
	if err != nil {
		uc.logger.Error("Failed to get orders from store for cache warm-up", zap.Error(err))
		return 0, fmt.Errorf("failed to get recent orders: %w", err)
	}

	successCount := 0
	for _, order := range orders {
		data, err := uc.codec.Encode(order)
		if err != nil {
			uc.logger.Error("Failed to encode order", zap.Error(err), zap.Int64("order_id", order.OrderID))
			continue
		}
		if err := uc.cache.Set(ctx, OrderKey(order.OrderID), data, uc.ttl.Order); err != nil {
			uc.logger.Warn("Failed to save order to cache", zap.Error(err), zap.Int64("order_id", order.OrderID))
			continue
		}
		successCount++
	}

	uc.logger.Info("Cache warmed", zap.Int("success_count", successCount), zap.Int("total_count", len(orders)))
	return successCount, nil
}
