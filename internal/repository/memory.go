package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sweetshop-rest-api/internal/model"
)

// MemoryStore is an in-process Store used for development and tests.
// Each item carries its own lock so units on different items run in
// parallel while units on the same item serialize.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[int64]*model.InventoryItem
	locks     map[int64]chan struct{}
	vouchers  map[string]*model.Voucher
	purchases []model.PurchaseRecord
	users     map[int64]*model.User
	emails    map[string]int64

	nextItemID     int64
	nextPurchaseID int64
	nextUserID     int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[int64]*model.InventoryItem),
		locks:    make(map[int64]chan struct{}),
		vouchers: make(map[string]*model.Voucher),
		users:    make(map[int64]*model.User),
		emails:   make(map[string]int64),
	}
}

// Name returns "memory".
func (m *MemoryStore) Name() string { return "memory" }

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateItem inserts a new item.
func (m *MemoryStore) CreateItem(ctx context.Context, item *model.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextItemID++
	now := time.Now().UTC()
	item.ID = m.nextItemID
	item.CreatedAt, item.UpdatedAt = now, now

	stored := *item
	m.items[item.ID] = &stored
	m.locks[item.ID] = make(chan struct{}, 1)
	return nil
}

// GetItem retrieves an item by ID.
func (m *MemoryStore) GetItem(ctx context.Context, id int64) (*model.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

// ListItems returns every item, newest first.
func (m *MemoryStore) ListItems(ctx context.Context) ([]model.InventoryItem, error) {
	return m.SearchItems(ctx, model.SearchFilter{})
}

// SearchItems returns items matching filter, newest first.
func (m *MemoryStore) SearchItems(ctx context.Context, filter model.SearchFilter) ([]model.InventoryItem, error) {
	m.mu.RLock()
	items := make([]model.InventoryItem, 0, len(m.items))
	for _, it := range m.items {
		if filter.Matches(it) {
			items = append(items, *it)
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// DeleteItem removes an item. Ledger entries for it are kept. It waits for
// any unit holding the item's lock, so a delete never lands between a
// unit's read and its commit.
func (m *MemoryStore) DeleteItem(ctx context.Context, id int64) error {
	m.mu.RLock()
	l, ok := m.locks[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	delete(m.locks, id)
	return nil
}

// CreateVoucher inserts a voucher.
func (m *MemoryStore) CreateVoucher(ctx context.Context, v *model.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vouchers[v.Code]; ok {
		return fmt.Errorf("voucher %s: %w", v.Code, ErrDuplicate)
	}
	cp := *v
	m.vouchers[v.Code] = &cp
	return nil
}

// GetVoucher retrieves a voucher by code.
func (m *MemoryStore) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vouchers[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// ListVouchers returns all vouchers ordered by code.
func (m *MemoryStore) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// DeactivateExpiredVouchers deactivates every active voucher past its validity.
func (m *MemoryStore) DeactivateExpiredVouchers(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, v := range m.vouchers {
		if v.Active && now.After(v.ValidUntil) {
			v.Active = false
			n++
		}
	}
	return n, nil
}

// ListPurchasesByUser returns a user's purchases, newest first.
func (m *MemoryStore) ListPurchasesByUser(ctx context.Context, userID int64) ([]model.PurchaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.PurchaseRecord{}
	for i := len(m.purchases) - 1; i >= 0; i-- {
		if m.purchases[i].UserID == userID {
			out = append(out, m.purchases[i])
		}
	}
	return out, nil
}

// CreateUser inserts a user and fills in its ID.
func (m *MemoryStore) CreateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, ok := m.emails[key]; ok {
		return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
	}
	m.nextUserID++
	u.ID = m.nextUserID
	u.CreatedAt = time.Now().UTC()

	cp := *u
	m.users[u.ID] = &cp
	m.emails[key] = u.ID
	return nil
}

// GetUserByEmail finds a user by email.
func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

// GetUserByID finds a user by ID.
func (m *MemoryStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// RunInTx stages writes in a memTx and applies them under the store lock on
// commit. Item locks taken by ReadItemForUpdate are held until the unit ends.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: m, held: make(map[int64]chan struct{}), items: make(map[int64]model.InventoryItem)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// GetStats returns entity counts.
func (m *MemoryStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"store":           "memory",
		"total_sweets":    int64(len(m.items)),
		"total_vouchers":  int64(len(m.vouchers)),
		"total_purchases": int64(len(m.purchases)),
		"total_users":     int64(len(m.users)),
	}, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

type memTx struct {
	store     *MemoryStore
	held      map[int64]chan struct{}
	items     map[int64]model.InventoryItem
	purchases []*model.PurchaseRecord
}

func (t *memTx) lock(ctx context.Context, id int64) error {
	if _, ok := t.held[id]; ok {
		return nil
	}

	t.store.mu.RLock()
	l, ok := t.store.locks[id]
	t.store.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	select {
	case l <- struct{}{}:
		t.held[id] = l
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}

func (t *memTx) ReadItemForUpdate(ctx context.Context, id int64) (*model.InventoryItem, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	if staged, ok := t.items[id]; ok {
		return &staged, nil
	}
	return t.store.GetItem(ctx, id)
}

func (t *memTx) WriteItem(ctx context.Context, item *model.InventoryItem) error {
	if _, ok := t.held[item.ID]; !ok {
		return fmt.Errorf("item %d written without lock", item.ID)
	}
	if item.StockQuantity < 0 {
		return fmt.Errorf("item %d: negative stock", item.ID)
	}
	item.UpdatedAt = time.Now().UTC()
	t.items[item.ID] = *item
	return nil
}

func (t *memTx) ReadVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	return t.store.GetVoucher(ctx, code)
}

func (t *memTx) AppendPurchase(ctx context.Context, rec *model.PurchaseRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	t.purchases = append(t.purchases, rec)
	return nil
}

func (t *memTx) commit() error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range t.items {
		if _, ok := m.items[id]; !ok {
			return ErrNotFound
		}
	}
	for id, staged := range t.items {
		it := staged
		m.items[id] = &it
	}
	for _, rec := range t.purchases {
		m.nextPurchaseID++
		rec.ID = m.nextPurchaseID
		m.purchases = append(m.purchases, *rec)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
