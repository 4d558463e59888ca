package repository

import (
	"context"
	"errors"
	"time"

	"sweetshop-rest-api/internal/model"
)

var (
	// ErrNotFound is returned when the requested row or document does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicate is returned when a unique key (email, voucher code) is already taken.
	ErrDuplicate = errors.New("repository: duplicate key")

	// ErrConflict marks a transient concurrency failure (deadlock, serialization
	// failure, busy database, aborted transaction). The unit of work may be retried.
	ErrConflict = errors.New("repository: write conflict")
)

// InventoryRepository defines catalog data access outside of a transaction.
type InventoryRepository interface {
	// CreateItem inserts item and fills in its ID and timestamps.
	CreateItem(ctx context.Context, item *model.InventoryItem) error

	GetItem(ctx context.Context, id int64) (*model.InventoryItem, error)

	// ListItems returns every item, newest first.
	ListItems(ctx context.Context) ([]model.InventoryItem, error)

	// SearchItems returns items matching all set fields of filter, newest first.
	SearchItems(ctx context.Context, filter model.SearchFilter) ([]model.InventoryItem, error)

	DeleteItem(ctx context.Context, id int64) error
}

// VoucherRepository defines voucher data access.
type VoucherRepository interface {
	CreateVoucher(ctx context.Context, v *model.Voucher) error
	GetVoucher(ctx context.Context, code string) (*model.Voucher, error)
	ListVouchers(ctx context.Context) ([]model.Voucher, error)

	// DeactivateExpiredVouchers flips active vouchers whose ValidUntil is before now.
	DeactivateExpiredVouchers(ctx context.Context, now time.Time) (int64, error)
}

// PurchaseLedger exposes read access to the append-only purchase log.
// Appends only happen through Tx.AppendPurchase.
type PurchaseLedger interface {
	// ListPurchasesByUser returns a user's purchases, newest first.
	ListPurchasesByUser(ctx context.Context, userID int64) ([]model.PurchaseRecord, error)
}

// UserRepository defines account data access.
type UserRepository interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// Tx is the set of operations available inside one atomic unit of work.
// Nothing done through a Tx is visible to others until RunInTx commits.
type Tx interface {
	// ReadItemForUpdate reads an item and holds a write lock on it until
	// the unit ends, so concurrent units on the same item serialize.
	ReadItemForUpdate(ctx context.Context, id int64) (*model.InventoryItem, error)

	// WriteItem persists every mutable field of item and bumps UpdatedAt.
	WriteItem(ctx context.Context, item *model.InventoryItem) error

	ReadVoucher(ctx context.Context, code string) (*model.Voucher, error)

	// AppendPurchase adds rec to the ledger and fills in its ID.
	AppendPurchase(ctx context.Context, rec *model.PurchaseRecord) error
}

// Store is a complete persistence backend.
type Store interface {
	InventoryRepository
	VoucherRepository
	PurchaseLedger
	UserRepository

	// RunInTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise, leaving no partial effects.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Name identifies the backend, e.g. "sqlite".
	Name() string

	Ping(ctx context.Context) error

	// GetStats returns statistics about the backing database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	Close() error
}
