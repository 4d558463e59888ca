package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is a sweet category.
type Category string

const (
	CategoryChocolate   Category = "CHOCOLATE"
	CategoryCandy       Category = "CANDY"
	CategoryGummy       Category = "GUMMY"
	CategoryPastry      Category = "PASTRY"
	CategoryTraditional Category = "TRADITIONAL"
	CategoryOther       Category = "OTHER"
)

// Categories lists every accepted category in display order.
var Categories = []Category{
	CategoryChocolate,
	CategoryCandy,
	CategoryGummy,
	CategoryPastry,
	CategoryTraditional,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// InventoryItem is a sweet in the catalog together with its stock level.
// StockQuantity is never negative and changes only through purchase and restock.
type InventoryItem struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Category      Category        `json:"category"`
	UnitPrice     decimal.Decimal `json:"price"`
	StockQuantity int             `json:"quantity"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewItem carries the fields needed to add an item to the catalog.
type NewItem struct {
	Name          string          `json:"name"`
	Category      Category        `json:"category"`
	UnitPrice     decimal.Decimal `json:"price"`
	StockQuantity int             `json:"quantity"`
}

// ItemPatch is a partial update. Nil fields are left untouched.
type ItemPatch struct {
	Name      *string          `json:"name,omitempty"`
	Category  *Category        `json:"category,omitempty"`
	UnitPrice *decimal.Decimal `json:"price,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.Category == nil && p.UnitPrice == nil
}

// Apply copies the set fields of p onto item.
func (p ItemPatch) Apply(item *InventoryItem) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Category != nil {
		item.Category = *p.Category
	}
	if p.UnitPrice != nil {
		item.UnitPrice = *p.UnitPrice
	}
}

// SearchFilter narrows a catalog search. Zero-valued fields are ignored;
// all set fields must match.
type SearchFilter struct {
	Name     string
	Category Category
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

// Matches reports whether item satisfies every set criterion.
func (f SearchFilter) Matches(item *InventoryItem) bool {
	if f.Name != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(f.Name)) {
		return false
	}
	if f.Category != "" && item.Category != f.Category {
		return false
	}
	if f.MinPrice != nil && item.UnitPrice.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && item.UnitPrice.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}
