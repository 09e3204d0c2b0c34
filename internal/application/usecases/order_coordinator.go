package usecases

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/niciki/system-design/internal/application/validation"
	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"
	"github.com/niciki/system-design/internal/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	kindOrder     = "order"
	kindOrderList = "order_list"
)

func OrderKey(orderID int64) string {
	return "order:" + strconv.FormatInt(orderID, 10)
}

func UserOrdersKey(clientID int64) string {
	return "user_orders:" + strconv.FormatInt(clientID, 10)
}

type CacheTTL struct {
	Order time.Duration
	List  time.Duration
}

func DefaultCacheTTL() CacheTTL {
	return CacheTTL{Order: 3600 * time.Second, List: 300 * time.Second}
}

// OrderCoordinator serves orders cache-aside: reads go to the cache first and
// populate it on a miss, writes commit to the gateway and then delete the
// affected keys. The cache is never written ahead of the store and its
// failures never reach the caller.
type OrderCoordinator struct {
	gateway   repository.OrderGateway
	cache     repository.CacheStore
	codec     repository.OrderCodec
	validator *validation.Validator
	metrics   observability.Metrics
	ttl       CacheTTL
	flight    singleflight.Group
	// writes counts invalidations per key stripe. A store read only
	// populates the cache if no invalidation hit its key while it ran.
	writes [64]atomic.Uint64
	logger    *zap.Logger
}

var _ repository.OrderService = (*OrderCoordinator)(nil)

func NewOrderCoordinator(
	gateway repository.OrderGateway,
	cache repository.CacheStore,
	codec repository.OrderCodec,
	validator *validation.Validator,
	metrics observability.Metrics,
	ttl CacheTTL,
	logger *zap.Logger,
) *OrderCoordinator {
	return &OrderCoordinator{
		gateway:   gateway,
		cache:     cache,
		codec:     codec,
		validator: validator,
		metrics:   metrics,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *OrderCoordinator) Create(ctx context.Context, caller model.Caller, req model.OrderCreateRequest) (*model.Order, error) {
	if req.ClientID != caller.UserID {
		c.logger.Warn("Order creation for another client rejected",
			zap.Int64("caller_id", caller.UserID), zap.Int64("client_id", req.ClientID))
		return nil, model.ErrForbidden
	}

	req.Items = append([]model.OrderItem(nil), req.Items...)
	req.NormalizePrices()
	if err := c.validator.ValidateCreate(req); err != nil {
		c.logger.Warn("Order validation failed", zap.Int64("client_id", req.ClientID), zap.Error(err))
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	order, err := c.gateway.CreateOrder(ctx, req.ClientID, req)
	c.metrics.ObserveStore("create_order", time.Since(start))
	if err != nil {
		c.logger.Error("Failed to create order", zap.Int64("client_id", req.ClientID), zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	c.invalidate(ctx, UserOrdersKey(order.ClientID))

	c.logger.Info("Order created", zap.Int64("order_id", order.OrderID), zap.Int64("client_id", order.ClientID))
	return order, nil
}

type fetchedOrder struct {
	order *model.Order
	data  []byte
	gen   uint64
}

func (c *OrderCoordinator) Get(ctx context.Context, caller model.Caller, orderID int64) (*model.Order, error) {
	key := OrderKey(orderID)

	if order, ok := c.cachedOrder(ctx, key); ok {
		if err := authorizeView(caller, order); err != nil {
			c.logger.Warn("Order access denied", zap.Int64("order_id", orderID),
				zap.Int64("caller_id", caller.UserID), zap.String("role", string(caller.Role)))
			return nil, err
		}
		c.logger.Debug("Order retrieved from cache", zap.Int64("order_id", orderID))
		return order, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		gen := c.generation(key)
		start := time.Now()
		order, err := c.gateway.GetOrder(context.WithoutCancel(ctx), orderID)
		c.metrics.ObserveStore("get_order", time.Since(start))
		if err != nil {
			return nil, err
		}
		data, err := c.codec.Encode(order)
		if err != nil {
			c.logger.Warn("Failed to encode order for cache", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return fetchedOrder{order: order, data: data, gen: gen}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			c.logger.Info("Order not found", zap.Int64("order_id", orderID))
			return nil, model.ErrOrderNotFound
		}
		c.logger.Error("Failed to get order from store", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to get order from store: %w", err)
	}

	fetched := v.(fetchedOrder)
	order := fetched.order.Clone()
	if err := authorizeView(caller, order); err != nil {
		c.logger.Warn("Order access denied", zap.Int64("order_id", orderID),
			zap.Int64("caller_id", caller.UserID), zap.String("role", string(caller.Role)))
		return nil, err
	}

	c.populate(ctx, key, fetched.data, fetched.gen, c.ttl.Order)
	c.logger.Debug("Order retrieved from store", zap.Int64("order_id", orderID))
	return order, nil
}

type fetchedList struct {
	orders []*model.Order
	data   []byte
	gen    uint64
}

// ListMine returns the caller's own orders; no per-order check is needed.
func (c *OrderCoordinator) ListMine(ctx context.Context, callerID int64) ([]*model.Order, error) {
	key := UserOrdersKey(callerID)

	if orders, ok := c.cachedList(ctx, key); ok {
		c.logger.Debug("Order list retrieved from cache", zap.Int64("client_id", callerID))
		return orders, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		gen := c.generation(key)
		start := time.Now()
		orders, err := c.gateway.ListOrdersByClient(context.WithoutCancel(ctx), callerID)
		c.metrics.ObserveStore("list_orders", time.Since(start))
		if err != nil {
			return nil, err
		}
		data, err := c.codec.EncodeList(orders)
		if err != nil {
			c.logger.Warn("Failed to encode order list for cache", zap.Int64("client_id", callerID), zap.Error(err))
		}
		return fetchedList{orders: orders, data: data, gen: gen}, nil
	})
	if err != nil {
		c.logger.Error("Failed to list orders from store", zap.Int64("client_id", callerID), zap.Error(err))
		return nil, fmt.Errorf("failed to list orders from store: %w", err)
	}

	fetched := v.(fetchedList)
	orders := make([]*model.Order, 0, len(fetched.orders))
	for _, o := range fetched.orders {
		orders = append(orders, o.Clone())
	}

	c.populate(ctx, key, fetched.data, fetched.gen, c.ttl.List)
	return orders, nil
}

func (c *OrderCoordinator) UpdateStatus(ctx context.Context, caller model.Caller, orderID int64, upd model.OrderUpdateRequest) (*model.Order, error) {
	if !caller.CanUpdateStatus() {
		c.logger.Warn("Order status update denied", zap.Int64("order_id", orderID),
			zap.Int64("caller_id", caller.UserID), zap.String("role", string(caller.Role)))
		return nil, model.ErrForbidden
	}
	if upd.IsEmpty() {
		return nil, model.ErrNoFieldsToUpdate
	}
	if err := c.validator.ValidateUpdate(upd); err != nil {
		c.logger.Warn("Order update validation failed", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	order, err := c.gateway.UpdateOrderStatus(ctx, orderID, upd)
	c.metrics.ObserveStore("update_order", time.Since(start))
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			return nil, model.ErrOrderNotFound
		}
		c.logger.Error("Failed to update order", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	c.invalidate(ctx, OrderKey(orderID), UserOrdersKey(order.ClientID))

	c.logger.Info("Order updated", zap.Int64("order_id", orderID), zap.String("status", string(order.Status)))
	return order, nil
}

func (c *OrderCoordinator) Delete(ctx context.Context, caller model.Caller, orderID int64) error {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	err := c.gateway.DeleteOrder(ctx, orderID, caller.UserID)
	c.metrics.ObserveStore("delete_order", time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, model.ErrOrderNotFound), errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrConflict):
			c.logger.Info("Order deletion rejected", zap.Int64("order_id", orderID),
				zap.Int64("caller_id", caller.UserID), zap.Error(err))
			return err
		}
		c.logger.Error("Failed to delete order", zap.Int64("order_id", orderID), zap.Error(err))
		return fmt.Errorf("failed to delete order: %w", err)
	}

	// the gateway only deletes for the owner, so the caller's list is the affected one
	c.invalidate(ctx, OrderKey(orderID), UserOrdersKey(caller.UserID))

	c.logger.Info("Order deleted", zap.Int64("order_id", orderID), zap.Int64("client_id", caller.UserID))
	return nil
}

func authorizeView(caller model.Caller, order *model.Order) error {
	if order.OwnedBy(caller.UserID) || caller.CanViewAnyOrder() {
		return nil
	}
	return model.ErrForbidden
}

func (c *OrderCoordinator) cachedOrder(ctx context.Context, key string) (*model.Order, bool) {
	data, ok := c.lookup(ctx, key, kindOrder)
	if !ok {
		return nil, false
	}
	order, err := c.codec.Decode(data)
	if err != nil {
		c.metrics.DecodeFailure(kindOrder)
		c.logger.Warn("Discarding undecodable cache entry", zap.String("cache_key", key), zap.Error(err))
		return nil, false
	}
	c.metrics.CacheHit(kindOrder)
	return order, true
}

func (c *OrderCoordinator) cachedList(ctx context.Context, key string) ([]*model.Order, bool) {
	data, ok := c.lookup(ctx, key, kindOrderList)
	if !ok {
		return nil, false
	}
	orders, err := c.codec.DecodeList(data)
	if err != nil {
		c.metrics.DecodeFailure(kindOrderList)
		c.logger.Warn("Discarding undecodable cache entry", zap.String("cache_key", key), zap.Error(err))
		return nil, false
	}
	c.metrics.CacheHit(kindOrderList)
	return orders, true
}

func (c *OrderCoordinator) lookup(ctx context.Context, key, kind string) ([]byte, bool) {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, model.ErrCacheMiss) {
			c.metrics.CacheError("get")
			c.logger.Warn("Cache read failed, falling back to store", zap.String("cache_key", key), zap.Error(err))
		}
		c.metrics.CacheMiss(kind)
		return nil, false
	}
	return data, true
}

func (c *OrderCoordinator) populate(ctx context.Context, key string, data []byte, gen uint64, ttl time.Duration) {
	if data == nil {
		return
	}
	if c.generation(key) != gen {
		c.logger.Debug("Skipping cache populate, key was invalidated during the read", zap.String("cache_key", key))
		return
	}
	if err := c.cache.Set(ctx, key, data, ttl); err != nil {
		c.metrics.CacheError("set")
		c.logger.Warn("Failed to populate cache", zap.String("cache_key", key), zap.Error(err))
	}
}

func (c *OrderCoordinator) stripe(key string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.writes[h.Sum32()%uint32(len(c.writes))]
}

func (c *OrderCoordinator) generation(key string) uint64 {
	return c.stripe(key).Load()
}

// invalidate deletes keys after a committed write. In-flight store reads of
// those keys are detached so later callers start a fresh read, and their
// results are kept out of the cache. Delete failures are logged and leave
// the entry to expire on its TTL.
func (c *OrderCoordinator) invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		c.stripe(key).Add(1)
		c.flight.Forget(key)
		if err := c.cache.Delete(ctx, key); err != nil {
			c.metrics.CacheError("delete")
			c.logger.Warn("Failed to invalidate cache entry", zap.String("cache_key", key), zap.Error(err))
			continue
		}
		c.metrics.Invalidation(key)
	}
}
