package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"
)

var _ repository.OrderGateway = (*OrderGateway)(nil)

// OrderGateway is an in-process source of record. Every method runs under a
// single lock, which makes each call atomic the way a transaction would be.
type OrderGateway struct {
	mu     sync.RWMutex
	orders map[int64]*model.Order
	nextID int64
	now    func() time.Time
}

func NewOrderGateway() *OrderGateway {
	return &OrderGateway{orders: map[int64]*model.Order{}, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (g *OrderGateway) WithClock(now func() time.Time) *OrderGateway {
	g.now = now
	return g
}

func (g *OrderGateway) CreateOrder(_ context.Context, clientID int64, req model.OrderCreateRequest) (*model.Order, error) {
	now := g.now().UTC()
	order := &model.Order{
		ClientID:      clientID,
		Items:         append([]model.OrderItem(nil), req.Items...),
		TotalAmount:   req.Total(),
		Status:        model.StatusCreated,
		PaymentMethod: req.PaymentMethod,
		DeliveryType:  req.DeliveryType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.DeliveryAddress != nil && req.DeliveryType != model.DeliveryPickup {
		addr := *req.DeliveryAddress
		order.DeliveryAddress = &addr
	}
	if req.EstimatedDelivery != nil {
		d := *req.EstimatedDelivery
		order.EstimatedDelivery = &d
	}
	if req.Notes != nil {
		n := *req.Notes
		order.Notes = &n
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	order.OrderID = g.nextID
	g.orders[order.OrderID] = order
	return order.Clone(), nil
}

func (g *OrderGateway) GetOrder(_ context.Context, orderID int64) (*model.Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	order, ok := g.orders[orderID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (g *OrderGateway) ListOrdersByClient(_ context.Context, clientID int64) ([]*model.Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	list := make([]*model.Order, 0)
	for _, order := range g.orders {
		if order.ClientID == clientID {
			list = append(list, order.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OrderID < list[j].OrderID })
	return list, nil
}

func (g *OrderGateway) UpdateOrderStatus(_ context.Context, orderID int64, upd model.OrderUpdateRequest) (*model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	// a write must never be visible through an order handed out earlier
	updated := order.Clone()
	upd.Apply(updated, g.now().UTC())
	g.orders[orderID] = updated
	return updated.Clone(), nil
}

func (g *OrderGateway) DeleteOrder(_ context.Context, orderID, ownerID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	switch {
	case !ok:
		return model.ErrOrderNotFound
	case !order.OwnedBy(ownerID):
		return model.ErrForbidden
	case !order.Status.Deletable():
		return model.ErrConflict
	}
	delete(g.orders, orderID)
	return nil
}

func (g *OrderGateway) RecentOrders(_ context.Context, limit int) ([]*model.Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	list := make([]*model.Order, 0, len(g.orders))
	for _, order := range g.orders {
		list = append(list, order.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].OrderID > list[j].OrderID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
