package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/events"
	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func seedItem(t *testing.T, store repository.Store, price string, qty int) *model.InventoryItem {
	t.Helper()
	item := &model.InventoryItem{
		Name:          "Chocolate Truffle",
		Category:      model.CategoryChocolate,
		UnitPrice:     decimal.RequireFromString(price),
		StockQuantity: qty,
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

func seedVoucher(t *testing.T, store repository.Store, code string, pct int, active bool, validUntil time.Time) {
	t.Helper()
	require.NoError(t, store.CreateVoucher(context.Background(), &model.Voucher{
		Code:            code,
		DiscountPercent: pct,
		Active:          active,
		ValidUntil:      validUntil,
	}))
}

func newTestCoordinator(store repository.Store, cfg CoordinatorConfig) *PurchaseCoordinator {
	c := NewPurchaseCoordinator(store, nil, nil, cfg, zap.NewNop())
	c.now = func() time.Time { return testNow }
	return c
}

func stockOf(t *testing.T, store repository.Store, id int64) int {
	t.Helper()
	it, err := store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return it.StockQuantity
}

// conflictingStore fails the first n units with a write conflict.
type conflictingStore struct {
	repository.Store
	remaining atomic.Int32
	calls     atomic.Int32
}

func (s *conflictingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.calls.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return repository.ErrConflict
	}
	return s.Store.RunInTx(ctx, fn)
}

// stalledStore holds every unit until its context ends.
type stalledStore struct {
	repository.Store
}

func (s *stalledStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, e events.Event) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}
