package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sweetshop-rest-api/internal/model"
)

// sqlDialect captures what differs between the database/sql backends.
type sqlDialect struct {
	name string

	// lockClause is appended to the row read inside a transaction.
	lockClause string

	schema []string

	// asciiCaseFold is set when LOWER and LIKE fold ASCII letters only, so
	// name matching has to happen in Go.
	asciiCaseFold bool

	// classify maps driver errors onto ErrConflict / ErrDuplicate.
	classify func(err error) error
}

// SQLStore implements Store on database/sql. It backs both SQLite and MySQL;
// the two differ only in their dialect.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
	log     *zap.Logger
}

const itemColumns = `SELECT id, name, category, price, quantity, created_at, updated_at`

const purchaseColumns = `SELECT id, user_id, sweet_id, quantity, total_cost, voucher_code, created_at`

func newSQLStore(db *sql.DB, dialect sqlDialect, logger *zap.Logger) (*SQLStore, error) {
	for _, stmt := range dialect.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect, log: logger.Named(dialect.name)}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.InventoryItem, error) {
	var it model.InventoryItem
	var category string
	if err := row.Scan(&it.ID, &it.Name, &category, &it.UnitPrice, &it.StockQuantity, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.Category = model.Category(category)
	return &it, nil
}

func scanPurchase(row rowScanner) (*model.PurchaseRecord, error) {
	var rec model.PurchaseRecord
	var code sql.NullString
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.SweetID, &rec.Quantity, &rec.TotalCost, &code, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if code.Valid {
		rec.VoucherCode = &code.String
	}
	return &rec, nil
}

func (s *SQLStore) wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, s.dialect.classify(err))
}

// Name returns the dialect name.
func (s *SQLStore) Name() string { return s.dialect.name }

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateItem inserts a new item.
func (s *SQLStore) CreateItem(ctx context.Context, item *model.InventoryItem) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sweets (name, category, price, quantity, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.Name, string(item.Category), item.UnitPrice.StringFixed(2), item.StockQuantity, now, now)
	if err != nil {
		return s.wrap("failed to insert item", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read item id: %w", err)
	}
	item.ID = id
	item.CreatedAt, item.UpdatedAt = now, now
	return nil
}

// GetItem retrieves an item by ID.
func (s *SQLStore) GetItem(ctx context.Context, id int64) (*model.InventoryItem, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, itemColumns+` FROM sweets WHERE id = ?`, id))
	if err != nil {
		return nil, s.wrap("failed to get item", err)
	}
	return it, nil
}

// ListItems returns every item, newest first.
func (s *SQLStore) ListItems(ctx context.Context) ([]model.InventoryItem, error) {
	return s.queryItems(ctx, itemColumns+` FROM sweets ORDER BY created_at DESC, id DESC`)
}

// SearchItems narrows by category, and by name where the engine folds case
// beyond ASCII, in SQL. Everything else is decided by filter.Matches on the
// decoded rows since SQLite keeps prices as text.
func (s *SQLStore) SearchItems(ctx context.Context, filter model.SearchFilter) ([]model.InventoryItem, error) {
	var where []string
	var args []any
	if filter.Name != "" && !s.dialect.asciiCaseFold {
		where = append(where, `LOWER(name) LIKE ? ESCAPE '!'`)
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Name))+"%")
	}
	if filter.Category != "" {
		where = append(where, `category = ?`)
		args = append(args, string(filter.Category))
	}

	query := itemColumns + ` FROM sweets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	items, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	matched := items[:0]
	for i := range items {
		if filter.Matches(&items[i]) {
			matched = append(matched, items[i])
		}
	}
	return matched, nil
}

func (s *SQLStore) queryItems(ctx context.Context, query string, args ...any) ([]model.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("failed to query items", err)
	}
	defer rows.Close()

	items := []model.InventoryItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// DeleteItem removes an item. Ledger rows for it are kept.
func (s *SQLStore) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sweets WHERE id = ?`, id)
	if err != nil {
		return s.wrap("failed to delete item", err)
	}
	return requireAffected(res)
}

// CreateVoucher inserts a voucher.
func (s *SQLStore) CreateVoucher(ctx context.Context, v *model.Voucher) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vouchers (code, discount_percent, active, valid_until) VALUES (?, ?, ?, ?)`,
		v.Code, v.DiscountPercent, v.Active, v.ValidUntil.UTC())
	if err != nil {
		return s.wrap("failed to insert voucher", err)
	}
	return nil
}

// GetVoucher retrieves a voucher by code.
func (s *SQLStore) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	v, err := scanVoucher(s.db.QueryRowContext(ctx,
		`SELECT code, discount_percent, active, valid_until FROM vouchers WHERE code = ?`, code))
	if err != nil {
		return nil, s.wrap("failed to get voucher", err)
	}
	return v, nil
}

func scanVoucher(row rowScanner) (*model.Voucher, error) {
	var v model.Voucher
	if err := row.Scan(&v.Code, &v.DiscountPercent, &v.Active, &v.ValidUntil); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVouchers returns all vouchers ordered by code.
func (s *SQLStore) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, discount_percent, active, valid_until FROM vouchers ORDER BY code`)
	if err != nil {
		return nil, s.wrap("failed to list vouchers", err)
	}
	defer rows.Close()

	vouchers := []model.Voucher{}
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	return vouchers, rows.Err()
}

// DeactivateExpiredVouchers deactivates every active voucher past its validity.
func (s *SQLStore) DeactivateExpiredVouchers(ctx context.Context, now time.Time) (int64, error) {
	vouchers, err := s.ListVouchers(ctx)
	if err != nil {
		return 0, err
	}

	var deactivated int64
	for _, v := range vouchers {
		if !v.Active || !now.After(v.ValidUntil) {
			continue
		}
		res, err := s.db.ExecContext(ctx, `UPDATE vouchers SET active = ? WHERE code = ? AND active = ?`, false, v.Code, true)
		if err != nil {
			return deactivated, s.wrap("failed to deactivate voucher", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deactivated += n
		}
	}

	if deactivated > 0 {
		s.log.Info("deactivated expired vouchers", zap.Int64("count", deactivated))
	}
	return deactivated, nil
}

// ListPurchasesByUser returns a user's purchases, newest first.
func (s *SQLStore) ListPurchasesByUser(ctx context.Context, userID int64) ([]model.PurchaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		purchaseColumns+` FROM purchases WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, s.wrap("failed to list purchases", err)
	}
	defer rows.Close()

	records := []model.PurchaseRecord{}
	for rows.Next() {
		rec, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CreateUser inserts a user and fills in its ID.
func (s *SQLStore) CreateUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt)
	if err != nil {
		return s.wrap("failed to insert user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUserByEmail finds a user by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, `email = ?`, email)
}

// GetUserByID finds a user by ID.
func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

func (s *SQLStore) getUser(ctx context.Context, cond string, arg any) (*model.User, error) {
	var u model.User
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, role, created_at FROM users WHERE `+cond, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		return nil, s.wrap("failed to get user", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// RunInTx runs fn inside a database transaction.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("failed to begin transaction", err)
	}

	if err := fn(ctx, &sqlTx{tx: tx, s: s}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("failed to commit transaction", err)
	}
	return nil
}

// GetStats returns row counts for every table.
func (s *SQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"store": s.dialect.name}
	for _, table := range []string{"sweets", "vouchers", "purchases", "users"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, s.wrap("failed to count "+table, err)
		}
		stats["total_"+table] = count
	}

	dbStats := s.db.Stats()
	stats["open_connections"] = dbStats.OpenConnections
	stats["in_use"] = dbStats.InUse
	return stats, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
	s  *SQLStore
}

func (t *sqlTx) ReadItemForUpdate(ctx context.Context, id int64) (*model.InventoryItem, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx, itemColumns+` FROM sweets WHERE id = ?`+t.s.dialect.lockClause, id))
	if err != nil {
		return nil, t.s.wrap("failed to read item", err)
	}
	return it, nil
}

func (t *sqlTx) WriteItem(ctx context.Context, item *model.InventoryItem) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sweets SET name = ?, category = ?, price = ?, quantity = ?, updated_at = ? WHERE id = ?`,
		item.Name, string(item.Category), item.UnitPrice.StringFixed(2), item.StockQuantity, now, item.ID)
	if err != nil {
		return t.s.wrap("failed to write item", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	item.UpdatedAt = now
	return nil
}

func (t *sqlTx) ReadVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	v, err := scanVoucher(t.tx.QueryRowContext(ctx,
		`SELECT code, discount_percent, active, valid_until FROM vouchers WHERE code = ?`, code))
	if err != nil {
		return nil, t.s.wrap("failed to read voucher", err)
	}
	return v, nil
}

func (t *sqlTx) AppendPurchase(ctx context.Context, rec *model.PurchaseRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO purchases (user_id, sweet_id, quantity, total_cost, voucher_code, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.SweetID, rec.Quantity, rec.TotalCost.StringFixed(2), rec.VoucherCode, rec.CreatedAt)
	if err != nil {
		return t.s.wrap("failed to append purchase", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read purchase id: %w", err)
	}
	rec.ID = id
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// escapeLike escapes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

var _ Store = (*SQLStore)(nil)
