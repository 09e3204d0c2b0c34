package usecases

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/niciki/system-design/internal/application/validation"
	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/infrastructure/cache"
	"github.com/niciki/system-design/internal/infrastructure/codec"
	"github.com/niciki/system-design/internal/infrastructure/persistence/memory"
	"github.com/niciki/system-design/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scenario struct {
	coordinator *OrderCoordinator
	gateway     *memory.OrderGateway
	store       *cache.MemoryStore
	now         time.Time
}

func newScenario(t *testing.T) *scenario {
	t.Helper()

	s := &scenario{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return s.now }

	store, err := cache.NewMemoryStore(128)
	require.NoError(t, err)
	s.store = store.WithClock(clock)
	s.gateway = memory.NewOrderGateway().WithClock(clock)
	s.coordinator = NewOrderCoordinator(s.gateway, s.store, codec.NewVersioned(),
		validation.NewValidatorWithClock(clock), observability.Noop{}, DefaultCacheTTL(), zap.NewNop())
	return s
}

func TestScenario_CreateComputesTotal(t *testing.T) {
	s := newScenario(t)

	order, err := s.coordinator.Create(context.Background(), owner, validCreate(owner.UserID))

	require.NoError(t, err)
	assert.Equal(t, "25.00", order.TotalAmount.StringFixed(2))
	assert.Equal(t, model.StatusCreated, order.Status)
	assert.True(t, model.TotalMatchesItems(order.TotalAmount, order.Items))
}

func TestScenario_PickupWithAddressRejected(t *testing.T) {
	s := newScenario(t)
	req := validCreate(owner.UserID)
	req.DeliveryType = model.DeliveryPickup

	_, err := s.coordinator.Create(context.Background(), owner, req)

	require.ErrorIs(t, err, model.ErrValidationFailed)
	orders, err := s.gateway.ListOrdersByClient(context.Background(), owner.UserID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestScenario_DeliveredVisibleAfterCachedRead(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	created, err := s.coordinator.Create(ctx, owner, validCreate(owner.UserID))
	require.NoError(t, err)

	_, err = s.coordinator.Get(ctx, owner, created.OrderID)
	require.NoError(t, err)
	_, err = s.store.Get(ctx, OrderKey(created.OrderID))
	require.NoError(t, err, "first read populates the cache")

	s.now = s.now.Add(30 * time.Minute)
	delivered := model.StatusDelivered
	_, err = s.coordinator.UpdateStatus(ctx, courier, created.OrderID, model.OrderUpdateRequest{Status: &delivered})
	require.NoError(t, err)

	got, err := s.coordinator.Get(ctx, owner, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(s.now))
}

func TestScenario_ListReflectsWrites(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	first, err := s.coordinator.Create(ctx, owner, validCreate(owner.UserID))
	require.NoError(t, err)

	list, err := s.coordinator.ListMine(ctx, owner.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.coordinator.Create(ctx, owner, validCreate(owner.UserID))
	require.NoError(t, err)
	list, err = s.coordinator.ListMine(ctx, owner.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.coordinator.Delete(ctx, owner, first.OrderID))
	list, err = s.coordinator.ListMine(ctx, owner.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEqual(t, first.OrderID, list[0].OrderID)
}

func TestScenario_DeleteInTransitConflictsWithoutSideEffects(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	created, err := s.coordinator.Create(ctx, owner, validCreate(owner.UserID))
	require.NoError(t, err)
	inTransit := model.StatusInTransit
	_, err = s.coordinator.UpdateStatus(ctx, courier, created.OrderID, model.OrderUpdateRequest{Status: &inTransit})
	require.NoError(t, err)

	_, err = s.coordinator.Get(ctx, owner, created.OrderID)
	require.NoError(t, err)
	cachedBefore, err := s.store.Get(ctx, OrderKey(created.OrderID))
	require.NoError(t, err)

	err = s.coordinator.Delete(ctx, owner, created.OrderID)
	require.ErrorIs(t, err, model.ErrConflict)

	stored, err := s.gateway.GetOrder(ctx, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, stored.Status)

	cachedAfter, err := s.store.Get(ctx, OrderKey(created.OrderID))
	require.NoError(t, err)
	assert.Equal(t, cachedBefore, cachedAfter)
}

func TestScenario_ForbiddenOnHitAndMiss(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	created, err := s.coordinator.Create(ctx, owner, validCreate(owner.UserID))
	require.NoError(t, err)

	_, err = s.coordinator.Get(ctx, other, created.OrderID)
	require.ErrorIs(t, err, model.ErrForbidden, "store path")

	_, err = s.coordinator.Get(ctx, owner, created.OrderID)
	require.NoError(t, err)

	_, err = s.coordinator.Get(ctx, other, created.OrderID)
	require.ErrorIs(t, err, model.ErrForbidden, "cache path")
}

func TestScenario_EntriesExpire(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	_, err := s.coordinator.ListMine(ctx, owner.UserID)
	require.NoError(t, err)
	_, err = s.store.Get(ctx, UserOrdersKey(owner.UserID))
	require.NoError(t, err)

	s.now = s.now.Add(300 * time.Second)
	_, err = s.store.Get(ctx, UserOrdersKey(owner.UserID))
	assert.ErrorIs(t, err, model.ErrCacheMiss)
}

type unreachableCache struct{}

var errUnreachable = errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")

func (unreachableCache) Get(context.Context, string) ([]byte, error)              { return nil, errUnreachable }
func (unreachableCache) Set(context.Context, string, []byte, time.Duration) error { return errUnreachable }
func (unreachableCache) Delete(context.Context, string) error                     { return errUnreachable }

func TestScenario_CacheUnreachable(t *testing.T) {
	gateway := memory.NewOrderGateway()
	c := NewOrderCoordinator(gateway, unreachableCache{}, codec.NewVersioned(),
		validation.NewValidator(), observability.Noop{}, DefaultCacheTTL(), zap.NewNop())
	ctx := context.Background()

	created, err := c.Create(ctx, owner, validCreate(owner.UserID))
	require.NoError(t, err)

	got, err := c.Get(ctx, owner, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, created.OrderID, got.OrderID)

	list, err := c.ListMine(ctx, owner.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.Delete(ctx, owner, created.OrderID))
}

type countingGateway struct {
	*memory.OrderGateway
	gets    atomic.Int32
	release chan struct{}
}

func (g *countingGateway) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	g.gets.Add(1)
	<-g.release
	return g.OrderGateway.GetOrder(ctx, orderID)
}

func TestScenario_ConcurrentMissesShareOneStoreRead(t *testing.T) {
	gateway := &countingGateway{OrderGateway: memory.NewOrderGateway(), release: make(chan struct{})}
	store, err := cache.NewMemoryStore(16)
	require.NoError(t, err)
	c := NewOrderCoordinator(gateway, store, codec.NewVersioned(),
		validation.NewValidator(), observability.Noop{}, DefaultCacheTTL(), zap.NewNop())
	ctx := context.Background()

	created, err := gateway.CreateOrder(ctx, owner.UserID, validCreate(owner.UserID))
	require.NoError(t, err)

	const readers = 8
	var started, done sync.WaitGroup
	started.Add(readers)
	done.Add(readers)
	results := make([]*model.Order, readers)
	for i := range readers {
		go func() {
			defer done.Done()
			started.Done()
			results[i], _ = c.Get(ctx, owner, created.OrderID)
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return gateway.gets.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gateway.release)
	done.Wait()

	assert.Equal(t, int32(1), gateway.gets.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, created.OrderID, r.OrderID)
	}
	results[0].Items[0].Name = "mutated"
	assert.NotEqual(t, "mutated", results[1].Items[0].Name)
}

// snapshotGateway takes the store snapshot on its first GetOrder and then
// holds the result until release is closed.
type snapshotGateway struct {
	*memory.OrderGateway
	gets    atomic.Int32
	read    chan struct{}
	release chan struct{}
}

func (g *snapshotGateway) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	order, err := g.OrderGateway.GetOrder(ctx, orderID)
	if g.gets.Add(1) == 1 {
		close(g.read)
		<-g.release
	}
	return order, err
}

func TestScenario_ReadStartedAfterUpdateSeesUpdate(t *testing.T) {
	gateway := &snapshotGateway{
		OrderGateway: memory.NewOrderGateway(),
		read:         make(chan struct{}),
		release:      make(chan struct{}),
	}
	store, err := cache.NewMemoryStore(16)
	require.NoError(t, err)
	c := NewOrderCoordinator(gateway, store, codec.NewVersioned(),
		validation.NewValidator(), observability.Noop{}, DefaultCacheTTL(), zap.NewNop())
	ctx := context.Background()

	created, err := gateway.CreateOrder(ctx, owner.UserID, validCreate(owner.UserID))
	require.NoError(t, err)

	var early *model.Order
	earlyDone := make(chan struct{})
	go func() {
		defer close(earlyDone)
		early, _ = c.Get(ctx, owner, created.OrderID)
	}()
	<-gateway.read

	delivered := model.StatusDelivered
	_, err = c.UpdateStatus(ctx, courier, created.OrderID, model.OrderUpdateRequest{Status: &delivered})
	require.NoError(t, err)

	late, err := c.Get(ctx, owner, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, late.Status)

	close(gateway.release)
	<-earlyDone
	require.NotNil(t, early)
	assert.Equal(t, model.StatusCreated, early.Status, "a read that began before the write may return the old state")

	next, err := c.Get(ctx, owner, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, next.Status)
	assert.Equal(t, int32(2), gateway.gets.Load())

	data, err := store.Get(ctx, OrderKey(created.OrderID))
	require.NoError(t, err)
	cached, err := codec.NewVersioned().Decode(data)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, cached.Status)
}

func TestScenario_ListReadDuringCreateDoesNotCacheOldList(t *testing.T) {
	gateway := memory.NewOrderGateway()
	store, err := cache.NewMemoryStore(16)
	require.NoError(t, err)
	c := NewOrderCoordinator(gateway, store, codec.NewVersioned(),
		validation.NewValidator(), observability.Noop{}, DefaultCacheTTL(), zap.NewNop())
	ctx := context.Background()
	key := UserOrdersKey(owner.UserID)

	gen := c.generation(key)
	_, err = c.Create(ctx, owner, validCreate(owner.UserID))
	require.NoError(t, err)

	c.populate(ctx, key, []byte("stale"), gen, time.Minute)

	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, model.ErrCacheMiss)
}
