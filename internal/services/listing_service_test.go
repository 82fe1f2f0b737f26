package services_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"handmade/internal/cache"
	"handmade/internal/models"
	"handmade/internal/realtime"
	"handmade/internal/services"
	"handmade/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProductReader is a mock implementation of services.ProductReader
type MockProductReader struct {
	mock.Mock
}

func (m *MockProductReader) List(ctx context.Context, q store.Query) ([]models.Product, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *MockProductReader) Get(ctx context.Context, id string) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

// MockCache is a mock implementation of cache.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	args := m.Called(ctx, key, dest)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockCache) DeletePattern(ctx context.Context, pattern string) error {
	args := m.Called(ctx, pattern)
	return args.Error(0)
}

var catalogue = []models.Product{
	{ID: "3", Title: "Blue mug", Description: "stoneware"},
	{ID: "2", Title: "Scarf", Description: "Hand-knit, matches the MUG"},
	{ID: "1", Title: "Bowl", Description: "oak"},
}

func TestListingService_ListFiltersAndCaches(t *testing.T) {
	reader := new(MockProductReader)
	c := new(MockCache)
	service := services.NewListingService(reader, c)

	reader.On("List", mock.Anything, store.Query{}).Return(catalogue, nil).Once()
	c.On("Get", mock.Anything, "products:mug", mock.Anything).Return(false, nil).Once()
	c.On("Set", mock.Anything, "products:mug", []models.Product{catalogue[0], catalogue[1]}).Return(nil).Once()

	products, err := service.List(context.Background(), "  Mug ")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "3", products[0].ID)
	assert.Equal(t, "2", products[1].ID)
	reader.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestListingService_ListCacheHit(t *testing.T) {
	reader := new(MockProductReader)
	c := new(MockCache)
	service := services.NewListingService(reader, c)

	c.On("Get", mock.Anything, "products:", mock.Anything).Run(func(args mock.Arguments) {
		dest := args.Get(2).(*[]models.Product)
		*dest = []models.Product{{ID: "cached"}}
	}).Return(true, nil).Once()

	products, err := service.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "cached", products[0].ID)
	reader.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestListingService_ListCacheErrorFallsThrough(t *testing.T) {
	reader := new(MockProductReader)
	c := new(MockCache)
	service := services.NewListingService(reader, c)

	c.On("Get", mock.Anything, "products:", mock.Anything).Return(false, fmt.Errorf("connection refused")).Once()
	c.On("Set", mock.Anything, "products:", mock.Anything).Return(fmt.Errorf("connection refused")).Once()
	reader.On("List", mock.Anything, store.Query{}).Return(catalogue, nil).Once()

	products, err := service.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, products, 3)
	reader.AssertExpectations(t)
}

func TestListingService_ListStoreError(t *testing.T) {
	reader := new(MockProductReader)
	service := services.NewListingService(reader, nil)

	reader.On("List", mock.Anything, store.Query{}).Return(nil, fmt.Errorf("database error")).Once()

	products, err := service.List(context.Background(), "")
	assert.Error(t, err)
	assert.Nil(t, products)
	assert.Contains(t, err.Error(), "database error")
}

func TestListingService_Get(t *testing.T) {
	reader := new(MockProductReader)
	service := services.NewListingService(reader, cache.Noop{})

	reader.On("Get", mock.Anything, "1").Return(&catalogue[2], nil).Once()
	reader.On("Get", mock.Anything, "99").Return(nil, store.ErrNotFound).Once()

	product, err := service.Get(context.Background(), "1")
	assert.NoError(t, err)
	assert.Equal(t, "Bowl", product.Title)

	product, err = service.Get(context.Background(), "99")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, product)
	reader.AssertExpectations(t)
}

func TestListingService_WatchInvalidations(t *testing.T) {
	c := new(MockCache)
	service := services.NewListingService(new(MockProductReader), c)
	broker := realtime.NewBroker()

	invalidated := make(chan struct{}, 1)
	c.On("DeletePattern", mock.Anything, "products:*").Run(func(mock.Arguments) {
		invalidated <- struct{}{}
	}).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		service.WatchInvalidations(ctx, broker)
		close(done)
	}()

	require.Eventually(t, func() bool { return broker.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)
	broker.Publish(realtime.Change{Kind: realtime.ProductCreated, ProductID: "p1"})

	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("cache was not invalidated")
	}

	cancel()
	<-done
	assert.Equal(t, 0, broker.ListenerCount())
}

// memCache is an in-memory cache.Cache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]models.Product
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]models.Product)}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		*dest.(*[]models.Product) = v
	}
	return ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value.([]models.Product)
	return nil
}

func (c *memCache) DeletePattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// gatedReader blocks its first List until released and serves the current
// product slice afterwards.
type gatedReader struct {
	mu       sync.Mutex
	products []models.Product
	calls    int
	entered  chan struct{}
	release  chan struct{}
}

func (r *gatedReader) set(products ...models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products = products
}

func (r *gatedReader) List(ctx context.Context, q store.Query) ([]models.Product, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	out := append([]models.Product(nil), r.products...)
	r.mu.Unlock()

	if first {
		close(r.entered)
		<-r.release
	}
	return out, nil
}

func (r *gatedReader) Get(ctx context.Context, id string) (*models.Product, error) {
	return nil, store.ErrNotFound
}

func TestListingService_LoadStraddlingInvalidationIsNotCached(t *testing.T) {
	reader := &gatedReader{entered: make(chan struct{}), release: make(chan struct{})}
	reader.set(models.Product{ID: "old", Title: "Old bowl"})
	c := newMemCache()
	service := services.NewListingService(reader, c)
	broker := realtime.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.WatchInvalidations(ctx, broker)
	require.Eventually(t, func() bool { return broker.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	first := make(chan []models.Product, 1)
	go func() {
		products, err := service.List(context.Background(), "")
		assert.NoError(t, err)
		first <- products
	}()
	<-reader.entered

	// a product lands while the miss is still reading the old listing
	reader.set(models.Product{ID: "new", Title: "New mug"}, models.Product{ID: "old", Title: "Old bowl"})
	require.NoError(t, service.Invalidate(context.Background()))
	broker.Publish(realtime.Change{Kind: realtime.ProductCreated, ProductID: "new"})

	close(reader.release)
	assert.Len(t, <-first, 1)

	products, err := service.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestListingService_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	reader := new(MockProductReader)
	service := services.NewListingService(reader, nil)

	reader.On("List", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), store.Query{}).
		Return(catalogue, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	products, err := service.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, products, 3)
	reader.AssertExpectations(t)
}
