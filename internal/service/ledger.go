package service

import (
	"context"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

// LedgerService exposes read access to completed purchases.
type LedgerService struct {
	ledger repository.PurchaseLedger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(ledger repository.PurchaseLedger) *LedgerService {
	return &LedgerService{ledger: ledger}
}

// History returns a user's purchases, newest first.
func (s *LedgerService) History(ctx context.Context, userID int64) ([]model.PurchaseRecord, error) {
	records, err := s.ledger.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, asStorageError("list purchases", err)
	}
	return records, nil
}
