package repository

import (
	"context"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
)

// OrderGateway is the transactional source of record for orders.
//
//go:generate mockgen -source=order_repository.go -destination=mocks/order_repository.go -package=mocks
type OrderGateway interface {
	CreateOrder(ctx context.Context, clientID int64, req model.OrderCreateRequest) (*model.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
	ListOrdersByClient(ctx context.Context, clientID int64) ([]*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, upd model.OrderUpdateRequest) (*model.Order, error)
	// DeleteOrder removes the order if ownerID owns it and it has not shipped.
	DeleteOrder(ctx context.Context, orderID, ownerID int64) error
	RecentOrders(ctx context.Context, limit int) ([]*model.Order, error)
}

// CacheStore is a byte-oriented key-value store with per-key expiration.
// Get returns model.ErrCacheMiss when the key is absent or expired.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type OrderCodec interface {
	Encode(order *model.Order) ([]byte, error)
	Decode(data []byte) (*model.Order, error)
	EncodeList(orders []*model.Order) ([]byte, error)
	DecodeList(data []byte) ([]*model.Order, error)
}

type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (model.Caller, error)
}

// OrderService is the contract consumed by the transport layer.
type OrderService interface {
	Create(ctx context.Context, caller model.Caller, req model.OrderCreateRequest) (*model.Order, error)
	Get(ctx context.Context, caller model.Caller, orderID int64) (*model.Order, error)
	ListMine(ctx context.Context, callerID int64) ([]*model.Order, error)
	UpdateStatus(ctx context.Context, caller model.Caller, orderID int64, upd model.OrderUpdateRequest) (*model.Order, error)
	Delete(ctx context.Context, caller model.Caller, orderID int64) error
}
