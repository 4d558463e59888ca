package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

// CatalogService handles create, read, search, update and delete of sweets.
// Stock levels are only changed by PurchaseCoordinator.
type CatalogService struct {
	store repository.Store
	units *unitRunner
	log   *zap.Logger
}

// NewCatalogService creates a new catalog service. Zero fields of config take
// the coordinator defaults.
func NewCatalogService(store repository.Store, config UnitConfig, logger *zap.Logger) *CatalogService {
	log := logger.Named("catalog")
	return &CatalogService{store: store, units: newUnitRunner(store, config, log), log: log}
}

const minNameLength = 2

func validateName(name string, fields map[string]string) {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < minNameLength {
		fields["name"] = "must be at least 2 characters"
	}
}

func validateCategory(c model.Category, fields map[string]string) {
	if !c.Valid() {
		fields["category"] = "unknown category"
	}
}

func validatePrice(p decimal.Decimal, fields map[string]string) {
	if !p.IsPositive() {
		fields["price"] = "must be greater than 0"
	} else if !p.Equal(p.Round(2)) {
		fields["price"] = "must have at most 2 decimal places"
	}
}

// Create adds a new sweet to the catalog.
func (s *CatalogService) Create(ctx context.Context, in model.NewItem) (*model.InventoryItem, error) {
	fields := map[string]string{}
	validateName(in.Name, fields)
	validateCategory(in.Category, fields)
	validatePrice(in.UnitPrice, fields)
	if in.StockQuantity < 0 {
		fields["quantity"] = "must be 0 or greater"
	} else if in.StockQuantity > MaxStock {
		fields["quantity"] = "is too large"
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}

	item := &model.InventoryItem{
		Name:          strings.TrimSpace(in.Name),
		Category:      in.Category,
		UnitPrice:     in.UnitPrice,
		StockQuantity: in.StockQuantity,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, asStorageError("create item", err)
	}

	s.log.Info("sweet created", zap.Int64("sweet_id", item.ID), zap.String("name", item.Name))
	return item, nil
}

// Get returns one sweet.
func (s *CatalogService) Get(ctx context.Context, id int64) (*model.InventoryItem, error) {
	item, err := s.store.GetItem(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, asStorageError("get item", err)
	}
	return item, nil
}

// List returns every sweet, newest first.
func (s *CatalogService) List(ctx context.Context) ([]model.InventoryItem, error) {
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, asStorageError("list items", err)
	}
	return items, nil
}

// Search returns sweets matching every set field of filter: a
// case-insensitive name substring, an exact category, and an inclusive
// price range.
func (s *CatalogService) Search(ctx context.Context, filter model.SearchFilter) ([]model.InventoryItem, error) {
	fields := map[string]string{}
	if filter.Category != "" {
		validateCategory(filter.Category, fields)
	}
	if filter.MinPrice != nil && filter.MinPrice.IsNegative() {
		fields["minPrice"] = "must be 0 or greater"
	}
	if filter.MaxPrice != nil && filter.MaxPrice.IsNegative() {
		fields["maxPrice"] = "must be 0 or greater"
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		fields["minPrice"] = "must not exceed maxPrice"
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}

	filter.Name = strings.TrimSpace(filter.Name)
	items, err := s.store.SearchItems(ctx, filter)
	if err != nil {
		return nil, asStorageError("search items", err)
	}
	return items, nil
}

// Update applies a partial patch. The read-modify-write runs under the item's
// write lock so a concurrent purchase cannot be overwritten, and like a
// purchase it is bounded by TxTimeout regardless of ctx.
func (s *CatalogService) Update(ctx context.Context, id int64, patch model.ItemPatch) (*model.InventoryItem, error) {
	if patch.Empty() {
		return nil, newValidationError(map[string]string{"body": "no fields to update"})
	}

	fields := map[string]string{}
	if patch.Name != nil {
		validateName(*patch.Name, fields)
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if patch.Category != nil {
		validateCategory(*patch.Category, fields)
	}
	if patch.UnitPrice != nil {
		validatePrice(*patch.UnitPrice, fields)
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}

	var updated *model.InventoryItem
	err := s.units.run(ctx, "update item", func(ctx context.Context, tx repository.Tx) error {
		item, err := tx.ReadItemForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		patch.Apply(item)
		if err := tx.WriteItem(ctx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sweet updated", zap.Int64("sweet_id", id))
	return updated, nil
}

// Delete removes a sweet. Past purchases of it stay in the ledger.
func (s *CatalogService) Delete(ctx context.Context, id int64) error {
	err := s.store.DeleteItem(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrItemNotFound
	}
	if err != nil {
		return asStorageError("delete item", err)
	}

	s.log.Info("sweet deleted", zap.Int64("sweet_id", id))
	return nil
}
