package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/cache"
	"sweetshop-rest-api/internal/events"
	"sweetshop-rest-api/internal/repository"
)

func TestTotalCost(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		percent  int
		quantity int
		want     string
	}{
		{"no discount", "2.50", 0, 4, "10.00"},
		{"twenty percent", "100.00", 20, 1, "80.00"},
		{"rounds half away from zero", "2.50", 15, 3, "6.38"},
		{"rounds down", "0.99", 33, 1, "0.66"},
		{"full discount", "9.99", 100, 5, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TotalCost(decimal.RequireFromString(tt.price), tt.percent, tt.quantity)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestPurchase_Success(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.50", 10)
	c := newTestCoordinator(store, CoordinatorConfig{})

	res, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 3, UserID: 7})
	require.NoError(t, err)

	assert.Equal(t, 7, res.Item.StockQuantity)
	assert.Equal(t, "4.50", res.Purchase.TotalCost.StringFixed(2))
	assert.Nil(t, res.Purchase.VoucherCode)
	assert.NotZero(t, res.Purchase.ID)
	assert.Equal(t, 7, stockOf(t, store, item.ID))

	history, err := store.ListPurchasesByUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].Quantity)
}

func TestPurchase_WithVoucher(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "100.00", 5)
	seedVoucher(t, store, "HAPPY20", 20, true, testNow.Add(24*time.Hour))
	c := newTestCoordinator(store, CoordinatorConfig{})

	res, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1, VoucherCode: " happy20 "})
	require.NoError(t, err)

	assert.Equal(t, "80.00", res.Purchase.TotalCost.StringFixed(2))
	require.NotNil(t, res.Purchase.VoucherCode)
	assert.Equal(t, "HAPPY20", *res.Purchase.VoucherCode)
	assert.Equal(t, 4, stockOf(t, store, item.ID))
}

func TestPurchase_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		qty     int
		voucher string
		itemID  int64
		wantErr error
	}{
		{"zero quantity", 0, "", 0, ErrInvalidQuantity},
		{"negative quantity", -2, "", 0, ErrInvalidQuantity},
		{"unknown item", 1, "", 9999, ErrItemNotFound},
		{"more than stock", 6, "", 0, ErrInsufficientStock},
		{"unknown voucher", 1, "NOPE", 0, ErrVoucherNotFound},
		{"expired voucher", 1, "OLD10", 0, ErrInvalidVoucher},
		{"inactive voucher", 1, "OFF50", 0, ErrInvalidVoucher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			item := seedItem(t, store, "2.00", 5)
			seedVoucher(t, store, "OLD10", 10, true, testNow.Add(-time.Minute))
			seedVoucher(t, store, "OFF50", 50, false, testNow.Add(time.Hour))
			c := newTestCoordinator(store, CoordinatorConfig{})

			id := item.ID
			if tt.itemID != 0 {
				id = tt.itemID
			}
			res, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: id, Quantity: tt.qty, UserID: 1, VoucherCode: tt.voucher})

			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, errors.Is(err, ErrStorage))
			assert.Equal(t, 5, stockOf(t, store, item.ID))

			history, _ := store.ListPurchasesByUser(context.Background(), 1)
			assert.Empty(t, history)
		})
	}
}

func TestPurchase_InsufficientStockReportsAvailable(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "2.00", 5)
	c := newTestCoordinator(store, CoordinatorConfig{})

	_, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 6, UserID: 1})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 6, stockErr.Requested)
}

func TestPurchase_ConcurrentBuyersNeverOversell(t *testing.T) {
	const buyers = 50
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", buyers-1)
	c := newTestCoordinator(store, CoordinatorConfig{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: user})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, buyers-1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, stockOf(t, store, item.ID))
}

func TestPurchase_RetriesWriteConflicts(t *testing.T) {
	base := repository.NewMemoryStore()
	item := seedItem(t, base, "1.00", 3)
	store := &conflictingStore{Store: base}
	store.remaining.Store(2)
	c := newTestCoordinator(store, CoordinatorConfig{MaxRetries: 3, RetryInterval: time.Millisecond})

	_, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1})
	require.NoError(t, err)

	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, 2, stockOf(t, base, item.ID))
}

func TestPurchase_ConflictsBeyondRetryBudget(t *testing.T) {
	base := repository.NewMemoryStore()
	item := seedItem(t, base, "1.00", 3)
	store := &conflictingStore{Store: base}
	store.remaining.Store(100)
	c := newTestCoordinator(store, CoordinatorConfig{MaxRetries: 2, RetryInterval: time.Millisecond})

	_, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1})

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.False(t, storageErr.Timeout())
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, 3, stockOf(t, base, item.ID))
}

func TestPurchase_Timeout(t *testing.T) {
	base := repository.NewMemoryStore()
	item := seedItem(t, base, "1.00", 3)
	c := newTestCoordinator(&stalledStore{Store: base}, CoordinatorConfig{TxTimeout: 30 * time.Millisecond})

	_, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1})

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.True(t, storageErr.Timeout())
	assert.Equal(t, 3, stockOf(t, base, item.ID))
}

func TestPurchase_CallerCancellationDoesNotAbortUnit(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", 3)
	c := newTestCoordinator(store, CoordinatorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Purchase(ctx, PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, stockOf(t, store, item.ID))
}

func TestPurchase_IdempotencyKey(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", 3)
	kv := cache.NewMemoryCache()
	defer kv.Close()
	c := NewPurchaseCoordinator(store, kv, nil, CoordinatorConfig{}, zap.NewNop())
	ctx := context.Background()

	_, err := c.Purchase(ctx, PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1, IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, err = c.Purchase(ctx, PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 2, stockOf(t, store, item.ID))

	// Keys are scoped per user.
	_, err = c.Purchase(ctx, PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 2, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, 1, stockOf(t, store, item.ID))
}

func TestPurchase_FailedPurchaseReleasesIdempotencyKey(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", 1)
	kv := cache.NewMemoryCache()
	defer kv.Close()
	c := NewPurchaseCoordinator(store, kv, nil, CoordinatorConfig{}, zap.NewNop())
	ctx := context.Background()

	_, err := c.Purchase(ctx, PurchaseRequest{ItemID: item.ID, Quantity: 2, UserID: 1, IdempotencyKey: "retry-me"})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = c.Purchase(ctx, PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1, IdempotencyKey: "retry-me"})
	require.NoError(t, err)
}

func TestPurchase_PublishesAfterCommit(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", 2)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.Event) bool {
		return e.Type == events.TypeSweetPurchased && e.SweetID == item.ID
	})).Return(nil).Once()
	c := NewPurchaseCoordinator(store, nil, pub, CoordinatorConfig{}, zap.NewNop())

	_, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1})
	require.NoError(t, err)

	_, err = c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 5, UserID: 1})
	require.ErrorIs(t, err, ErrInsufficientStock)

	pub.AssertExpectations(t)
}

func TestPurchase_PublishFailureKeepsCommit(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", 2)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	c := NewPurchaseCoordinator(store, nil, pub, CoordinatorConfig{}, zap.NewNop())

	_, err := c.Purchase(context.Background(), PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stockOf(t, store, item.ID))
}

func TestRestock(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", 5)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.Event) bool {
		return e.Type == events.TypeSweetRestocked
	})).Return(nil).Once()
	c := NewPurchaseCoordinator(store, nil, pub, CoordinatorConfig{}, zap.NewNop())
	ctx := context.Background()

	updated, err := c.Restock(ctx, item.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, updated.StockQuantity)
	assert.Equal(t, 15, stockOf(t, store, item.ID))

	_, err = c.Restock(ctx, item.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = c.Restock(ctx, 4242, 1)
	assert.ErrorIs(t, err, ErrItemNotFound)

	pub.AssertExpectations(t)
}

func TestRestockAndPurchaseInterleave(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "1.00", 0)
	c := newTestCoordinator(store, CoordinatorConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := c.Restock(ctx, item.ID, 1)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, _ = c.Purchase(ctx, PurchaseRequest{ItemID: item.ID, Quantity: 1, UserID: 1})
		}()
	}
	wg.Wait()

	history, err := store.ListPurchasesByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20-len(history), stockOf(t, store, item.ID))
}

func TestRestock_RejectsStockOverflow(t *testing.T) {
	store := repository.NewMemoryStore()
	item := seedItem(t, store, "2.50", 5)
	c := newTestCoordinator(store, CoordinatorConfig{})
	ctx := context.Background()

	_, err := c.Restock(ctx, item.ID, math.MaxInt)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	var storageErr *StorageError
	assert.False(t, errors.As(err, &storageErr))
	assert.Equal(t, 5, stockOf(t, store, item.ID))

	updated, err := c.Restock(ctx, item.ID, MaxStock-5)
	require.NoError(t, err)
	assert.Equal(t, MaxStock, updated.StockQuantity)

	_, err = c.Restock(ctx, item.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, MaxStock, stockOf(t, store, item.ID))
}
