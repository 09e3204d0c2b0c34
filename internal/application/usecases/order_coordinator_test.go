package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/niciki/system-design/internal/application/validation"
	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository/mocks"
	"github.com/niciki/system-design/internal/infrastructure/codec"
	"github.com/niciki/system-design/internal/observability"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type coordinatorDeps struct {
	gateway *mocks.MockOrderGateway
	cache   *mocks.MockCacheStore
	codec   codec.Versioned
}

func newTestCoordinator(t *testing.T) (*OrderCoordinator, coordinatorDeps) {
	t.Helper()
	ctrl := gomock.NewController(t)

	deps := coordinatorDeps{
		gateway: mocks.NewMockOrderGateway(ctrl),
		cache:   mocks.NewMockCacheStore(ctrl),
		codec:   codec.NewVersioned(),
	}
	c := NewOrderCoordinator(deps.gateway, deps.cache, deps.codec, validation.NewValidator(),
		observability.Noop{}, DefaultCacheTTL(), zap.NewNop())
	return c, deps
}

func fakeOrder(orderID, clientID int64) *model.Order {
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	return &model.Order{
		OrderID:  orderID,
		ClientID: clientID,
		Items: []model.OrderItem{{
			ProductID: int64(gofakeit.Number(1, 9999)),
			Name:      gofakeit.ProductName(),
			Quantity:  2,
			Price:     decimal.RequireFromString("10.00"),
		}},
		TotalAmount:   decimal.RequireFromString("20.00"),
		Status:        model.StatusCreated,
		PaymentMethod: model.PaymentCard,
		DeliveryType:  model.DeliveryPickup,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func validCreate(clientID int64) model.OrderCreateRequest {
	return model.OrderCreateRequest{
		ClientID: clientID,
		Items: []model.OrderItem{
			{ProductID: 1, Name: "Widget", Quantity: 2, Price: decimal.RequireFromString("10")},
			{ProductID: 2, Name: "Gadget", Quantity: 1, Price: decimal.RequireFromString("5")},
		},
		PaymentMethod: model.PaymentCard,
		DeliveryType:  model.DeliveryStandard,
		DeliveryAddress: &model.Address{
			Street:     gofakeit.Street(),
			City:       gofakeit.City(),
			PostalCode: "10115",
			Country:    "Germany",
		},
	}
}

var (
	owner   = model.Caller{UserID: 5, Username: "alice", Role: model.RoleClient}
	other   = model.Caller{UserID: 6, Username: "bob", Role: model.RoleClient}
	courier = model.Caller{UserID: 90, Username: "carl", Role: model.RoleCourier}
)

func TestOrderCoordinator_Get_CacheHit(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	cached := fakeOrder(7, owner.UserID)
	data, err := deps.codec.Encode(cached)
	require.NoError(t, err)

	deps.cache.EXPECT().Get(ctx, "order:7").Return(data, nil)
	deps.gateway.EXPECT().GetOrder(gomock.Any(), gomock.Any()).Times(0)

	order, err := c.Get(ctx, owner, 7)

	require.NoError(t, err)
	assert.Equal(t, int64(7), order.OrderID)
	assert.True(t, cached.TotalAmount.Equal(order.TotalAmount))
}

func TestOrderCoordinator_Get_CacheHit_Forbidden(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	data, err := deps.codec.Encode(fakeOrder(7, owner.UserID))
	require.NoError(t, err)
	deps.cache.EXPECT().Get(ctx, "order:7").Return(data, nil)

	order, err := c.Get(ctx, other, 7)

	require.ErrorIs(t, err, model.ErrForbidden)
	assert.Nil(t, order)
}

func TestOrderCoordinator_Get_CacheMiss_Forbidden(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "order:7").Return(nil, model.ErrCacheMiss)
	deps.gateway.EXPECT().GetOrder(gomock.Any(), int64(7)).Return(fakeOrder(7, owner.UserID), nil)

	order, err := c.Get(ctx, other, 7)

	require.ErrorIs(t, err, model.ErrForbidden)
	assert.Nil(t, order)
}

func TestOrderCoordinator_Get_PrivilegedRoleSeesAnyOrder(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "order:7").Return(nil, model.ErrCacheMiss)
	deps.gateway.EXPECT().GetOrder(gomock.Any(), int64(7)).Return(fakeOrder(7, owner.UserID), nil)
	deps.cache.EXPECT().Set(ctx, "order:7", gomock.Any(), time.Hour).Return(nil)

	order, err := c.Get(ctx, courier, 7)

	require.NoError(t, err)
	assert.Equal(t, owner.UserID, order.ClientID)
}

func TestOrderCoordinator_Get_CacheMiss_PopulatesCache(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()
	stored := fakeOrder(7, owner.UserID)

	var written []byte
	deps.cache.EXPECT().Get(ctx, "order:7").Return(nil, model.ErrCacheMiss)
	deps.gateway.EXPECT().GetOrder(gomock.Any(), int64(7)).Return(stored, nil)
	deps.cache.EXPECT().Set(ctx, "order:7", gomock.Any(), 3600*time.Second).
		DoAndReturn(func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			written = value
			return nil
		})

	order, err := c.Get(ctx, owner, 7)

	require.NoError(t, err)
	assert.Equal(t, stored.OrderID, order.OrderID)

	decoded, err := deps.codec.Decode(written)
	require.NoError(t, err)
	assert.Equal(t, stored.ClientID, decoded.ClientID)
}

func TestOrderCoordinator_Get_CacheUnavailable_ServedFromStore(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "order:7").Return(nil, errors.New("dial tcp: connection refused"))
	deps.gateway.EXPECT().GetOrder(gomock.Any(), int64(7)).Return(fakeOrder(7, owner.UserID), nil)
	deps.cache.EXPECT().Set(ctx, "order:7", gomock.Any(), gomock.Any()).Return(errors.New("dial tcp: connection refused"))

	order, err := c.Get(ctx, owner, 7)

	require.NoError(t, err)
	assert.Equal(t, int64(7), order.OrderID)
}

func TestOrderCoordinator_Get_UndecodableEntry_TreatedAsMiss(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "order:7").Return([]byte(`{"v":1,"kind":"order","order":{"order_id":`), nil)
	deps.gateway.EXPECT().GetOrder(gomock.Any(), int64(7)).Return(fakeOrder(7, owner.UserID), nil)
	deps.cache.EXPECT().Set(ctx, "order:7", gomock.Any(), gomock.Any()).Return(nil)

	order, err := c.Get(ctx, owner, 7)

	require.NoError(t, err)
	assert.Equal(t, int64(7), order.OrderID)
}

func TestOrderCoordinator_Get_NotFound(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "order:404").Return(nil, model.ErrCacheMiss)
	deps.gateway.EXPECT().GetOrder(gomock.Any(), int64(404)).Return(nil, model.ErrOrderNotFound)

	order, err := c.Get(ctx, owner, 404)

	require.ErrorIs(t, err, model.ErrOrderNotFound)
	assert.Nil(t, order)
}

func TestOrderCoordinator_Get_StoreError(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "order:7").Return(nil, model.ErrCacheMiss)
	deps.gateway.EXPECT().GetOrder(gomock.Any(), int64(7)).Return(nil, model.ErrStoreUnavailable)

	_, err := c.Get(ctx, owner, 7)

	require.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "failed to get order from store")
}

func TestOrderCoordinator_ListMine_CacheHit(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	data, err := deps.codec.EncodeList([]*model.Order{fakeOrder(1, owner.UserID), fakeOrder(2, owner.UserID)})
	require.NoError(t, err)
	deps.cache.EXPECT().Get(ctx, "user_orders:5").Return(data, nil)
	deps.gateway.EXPECT().ListOrdersByClient(gomock.Any(), gomock.Any()).Times(0)

	orders, err := c.ListMine(ctx, owner.UserID)

	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(2), orders[1].OrderID)
}

func TestOrderCoordinator_ListMine_CacheMiss_PopulatesWithListTTL(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "user_orders:5").Return(nil, model.ErrCacheMiss)
	deps.gateway.EXPECT().ListOrdersByClient(gomock.Any(), owner.UserID).
		Return([]*model.Order{fakeOrder(1, owner.UserID)}, nil)
	deps.cache.EXPECT().Set(ctx, "user_orders:5", gomock.Any(), 300*time.Second).Return(nil)

	orders, err := c.ListMine(ctx, owner.UserID)

	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestOrderCoordinator_ListMine_EmptyListIsCached(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "user_orders:5").Return(nil, model.ErrCacheMiss)
	deps.gateway.EXPECT().ListOrdersByClient(gomock.Any(), owner.UserID).Return([]*model.Order{}, nil)
	deps.cache.EXPECT().Set(ctx, "user_orders:5", gomock.Any(), gomock.Any()).Return(nil)

	orders, err := c.ListMine(ctx, owner.UserID)

	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrderCoordinator_Create_InvalidatesClientList(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	ctx := context.Background()
	req := validCreate(owner.UserID)

	deps.gateway.EXPECT().CreateOrder(gomock.Any(), owner.UserID, gomock.Any()).
		DoAndReturn(func(_ context.Context, clientID int64, r model.OrderCreateRequest) (*model.Order, error) {
			o := fakeOrder(11, clientID)
			o.Items = r.Items
			o.TotalAmount = r.Total()
			return o, nil
		})
	deps.cache.EXPECT().Delete(gomock.Any(), "user_orders:5").Return(nil)

	order, err := c.Create(ctx, owner, req)

	require.NoError(t, err)
	assert.Equal(t, "25.00", order.TotalAmount.StringFixed(2))
}

func TestOrderCoordinator_Create_ForOtherClient_Forbidden(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)

	deps.gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := c.Create(context.Background(), other, validCreate(owner.UserID))

	require.ErrorIs(t, err, model.ErrForbidden)
}

func TestOrderCoordinator_Create_PickupWithAddress_Rejected(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	req := validCreate(owner.UserID)
	req.DeliveryType = model.DeliveryPickup

	deps.gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := c.Create(context.Background(), owner, req)

	require.ErrorIs(t, err, model.ErrValidationFailed)
}

func TestOrderCoordinator_Create_RoundsPricesWithoutTouchingCaller(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	req := validCreate(owner.UserID)
	req.Items[0].Price = decimal.RequireFromString("10.004")

	deps.gateway.EXPECT().CreateOrder(gomock.Any(), owner.UserID, gomock.Any()).
		DoAndReturn(func(_ context.Context, clientID int64, r model.OrderCreateRequest) (*model.Order, error) {
			assert.Equal(t, "10.00", r.Items[0].Price.StringFixed(2))
			assert.True(t, decimal.RequireFromString("10.00").Equal(r.Items[0].Price))
			return fakeOrder(12, clientID), nil
		})
	deps.cache.EXPECT().Delete(gomock.Any(), "user_orders:5").Return(nil)

	_, err := c.Create(context.Background(), owner, req)

	require.NoError(t, err)
	assert.Equal(t, "10.004", req.Items[0].Price.String())
}

func TestOrderCoordinator_Create_StoreFailure_LeavesCacheAlone(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)

	deps.gateway.EXPECT().CreateOrder(gomock.Any(), owner.UserID, gomock.Any()).
		Return(nil, model.ErrStoreWriteFailed)

	_, err := c.Create(context.Background(), owner, validCreate(owner.UserID))

	require.ErrorIs(t, err, model.ErrStoreWriteFailed)
}

func TestOrderCoordinator_UpdateStatus_InvalidatesOrderAndList(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	status := model.StatusInTransit

	updated := fakeOrder(7, owner.UserID)
	updated.Status = status

	gomock.InOrder(
		deps.gateway.EXPECT().UpdateOrderStatus(gomock.Any(), int64(7), gomock.Any()).Return(updated, nil),
		deps.cache.EXPECT().Delete(gomock.Any(), "order:7").Return(nil),
		deps.cache.EXPECT().Delete(gomock.Any(), "user_orders:5").Return(nil),
	)

	order, err := c.UpdateStatus(context.Background(), courier, 7, model.OrderUpdateRequest{Status: &status})

	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, order.Status)
}

func TestOrderCoordinator_UpdateStatus_ClientForbidden(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	status := model.StatusDelivered

	deps.gateway.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := c.UpdateStatus(context.Background(), owner, 7, model.OrderUpdateRequest{Status: &status})

	require.ErrorIs(t, err, model.ErrForbidden)
}

func TestOrderCoordinator_UpdateStatus_NoFields(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t)
	empty := ""

	_, err := c.UpdateStatus(context.Background(), courier, 7, model.OrderUpdateRequest{Notes: &empty})

	require.ErrorIs(t, err, model.ErrNoFieldsToUpdate)
}

func TestOrderCoordinator_UpdateStatus_NotFound(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)
	status := model.StatusProcessing

	deps.gateway.EXPECT().UpdateOrderStatus(gomock.Any(), int64(404), gomock.Any()).Return(nil, model.ErrOrderNotFound)

	_, err := c.UpdateStatus(context.Background(), courier, 404, model.OrderUpdateRequest{Status: &status})

	require.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestOrderCoordinator_Delete_InvalidatesBothKeys(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)

	gomock.InOrder(
		deps.gateway.EXPECT().DeleteOrder(gomock.Any(), int64(7), owner.UserID).Return(nil),
		deps.cache.EXPECT().Delete(gomock.Any(), "order:7").Return(nil),
		deps.cache.EXPECT().Delete(gomock.Any(), "user_orders:5").Return(nil),
	)

	require.NoError(t, c.Delete(context.Background(), owner, 7))
}

func TestOrderCoordinator_Delete_CacheFailureSwallowed(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)

	deps.gateway.EXPECT().DeleteOrder(gomock.Any(), int64(7), owner.UserID).Return(nil)
	deps.cache.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(errors.New("i/o timeout")).Times(2)

	require.NoError(t, c.Delete(context.Background(), owner, 7))
}

func TestOrderCoordinator_Delete_Rejections(t *testing.T) {
	t.Parallel()

	for _, want := range []error{model.ErrConflict, model.ErrForbidden, model.ErrOrderNotFound} {
		t.Run(want.Error(), func(t *testing.T) {
			t.Parallel()
			c, deps := newTestCoordinator(t)

			deps.gateway.EXPECT().DeleteOrder(gomock.Any(), int64(7), owner.UserID).Return(want)

			err := c.Delete(context.Background(), owner, 7)

			require.ErrorIs(t, err, want)
		})
	}
}

func TestOrderCoordinator_Delete_StoreFailure(t *testing.T) {
	t.Parallel()
	c, deps := newTestCoordinator(t)

	deps.gateway.EXPECT().DeleteOrder(gomock.Any(), int64(7), owner.UserID).
		Return(errors.Join(model.ErrStoreWriteFailed, errors.New("connection reset")))

	err := c.Delete(context.Background(), owner, 7)

	require.ErrorIs(t, err, model.ErrStoreWriteFailed)
	assert.Contains(t, err.Error(), "failed to delete order")
}
