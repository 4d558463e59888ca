package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRecord is an immutable ledger entry for one completed purchase.
type PurchaseRecord struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	SweetID     int64           `json:"sweetId"`
	Quantity    int             `json:"quantity"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	VoucherCode *string         `json:"voucherCode,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}
