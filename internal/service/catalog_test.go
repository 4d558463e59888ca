package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

func newCatalog() (*CatalogService, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	return NewCatalogService(store, UnitConfig{}, zap.NewNop()), store
}

func validNewItem() model.NewItem {
	return model.NewItem{
		Name:          "  Gulab Jamun ",
		Category:      model.CategoryTraditional,
		UnitPrice:     decimal.RequireFromString("3.75"),
		StockQuantity: 12,
	}
}

func TestCatalog_Create(t *testing.T) {
	catalog, _ := newCatalog()

	item, err := catalog.Create(context.Background(), validNewItem())
	require.NoError(t, err)

	assert.NotZero(t, item.ID)
	assert.Equal(t, "Gulab Jamun", item.Name)
	assert.Equal(t, 12, item.StockQuantity)
}

func TestCatalog_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.NewItem)
		field  string
	}{
		{"short name", func(in *model.NewItem) { in.Name = " a " }, "name"},
		{"unknown category", func(in *model.NewItem) { in.Category = "SAVOURY" }, "category"},
		{"zero price", func(in *model.NewItem) { in.UnitPrice = decimal.Zero }, "price"},
		{"too many decimals", func(in *model.NewItem) { in.UnitPrice = decimal.RequireFromString("1.005") }, "price"},
		{"negative stock", func(in *model.NewItem) { in.StockQuantity = -1 }, "quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, store := newCatalog()
			in := validNewItem()
			tt.mutate(&in)

			_, err := catalog.Create(context.Background(), in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, verr.Fields, tt.field)

			items, _ := store.ListItems(context.Background())
			assert.Empty(t, items)
		})
	}
}

func TestCatalog_GetAndDelete(t *testing.T) {
	catalog, _ := newCatalog()
	ctx := context.Background()
	item, err := catalog.Create(ctx, validNewItem())
	require.NoError(t, err)

	got, err := catalog.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, got.Name)

	require.NoError(t, catalog.Delete(ctx, item.ID))

	_, err = catalog.Get(ctx, item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, catalog.Delete(ctx, item.ID), ErrItemNotFound)
}

func TestCatalog_Search(t *testing.T) {
	catalog, _ := newCatalog()
	ctx := context.Background()
	for _, in := range []model.NewItem{
		{Name: "Milk Chocolate", Category: model.CategoryChocolate, UnitPrice: decimal.RequireFromString("2.00")},
		{Name: "Dark Chocolate", Category: model.CategoryChocolate, UnitPrice: decimal.RequireFromString("4.00")},
		{Name: "Sour Worms", Category: model.CategoryGummy, UnitPrice: decimal.RequireFromString("1.00")},
	} {
		_, err := catalog.Create(ctx, in)
		require.NoError(t, err)
	}

	got, err := catalog.Search(ctx, model.SearchFilter{Name: " CHOC "})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	maxPrice := decimal.RequireFromString("3")
	got, err = catalog.Search(ctx, model.SearchFilter{Category: model.CategoryChocolate, MaxPrice: &maxPrice})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Milk Chocolate", got[0].Name)

	all, err := catalog.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCatalog_SearchValidation(t *testing.T) {
	catalog, _ := newCatalog()
	lo := decimal.RequireFromString("5")
	hi := decimal.RequireFromString("1")
	neg := decimal.RequireFromString("-1")

	_, err := catalog.Search(context.Background(), model.SearchFilter{MinPrice: &lo, MaxPrice: &hi})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = catalog.Search(context.Background(), model.SearchFilter{MinPrice: &neg})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = catalog.Search(context.Background(), model.SearchFilter{Category: "NOPE"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCatalog_Update(t *testing.T) {
	catalog, _ := newCatalog()
	ctx := context.Background()
	item, err := catalog.Create(ctx, validNewItem())
	require.NoError(t, err)

	price := decimal.RequireFromString("4.10")
	updated, err := catalog.Update(ctx, item.ID, model.ItemPatch{UnitPrice: &price})
	require.NoError(t, err)
	assert.True(t, updated.UnitPrice.Equal(price))
	assert.Equal(t, "Gulab Jamun", updated.Name)
	assert.Equal(t, 12, updated.StockQuantity, "stock is not touched by updates")

	_, err = catalog.Update(ctx, item.ID, model.ItemPatch{})
	assert.ErrorIs(t, err, ErrValidation)

	bad := model.Category("SOUP")
	_, err = catalog.Update(ctx, item.ID, model.ItemPatch{Category: &bad})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = catalog.Update(ctx, 999, model.ItemPatch{UnitPrice: &price})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestCatalog_UpdateIsBounded(t *testing.T) {
	store := repository.NewMemoryStore()
	catalog := NewCatalogService(store, UnitConfig{TxTimeout: 50 * time.Millisecond}, zap.NewNop())
	ctx := context.Background()
	item, err := catalog.Create(ctx, validNewItem())
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if _, err := tx.ReadItemForUpdate(ctx, item.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	name := "Kaju Katli"
	start := time.Now()
	_, err = catalog.Update(ctx, item.ID, model.ItemPatch{Name: &name})
	elapsed := time.Since(start)
	close(release)
	require.NoError(t, <-holderDone)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.True(t, storageErr.Timeout())
	assert.Less(t, elapsed, 2*time.Second)

	updated, err := catalog.Update(ctx, item.ID, model.ItemPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
}

func TestCatalog_UpdateIgnoresCallerCancellation(t *testing.T) {
	catalog, _ := newCatalog()
	item, err := catalog.Create(context.Background(), validNewItem())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	name := "Kaju Katli"
	updated, err := catalog.Update(ctx, item.ID, model.ItemPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
}

func TestCatalog_CreateRejectsOversizedStock(t *testing.T) {
	catalog, _ := newCatalog()
	in := validNewItem()
	in.StockQuantity = MaxStock + 1

	_, err := catalog.Create(context.Background(), in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "quantity")
}
