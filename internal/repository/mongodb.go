package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/model"
)

// MongoDBStore implements Store using MongoDB multi-document transactions.
// It requires a replica set (or sharded cluster); standalone servers reject
// transactions.
type MongoDBStore struct {
	client    *mongo.Client
	db        *mongo.Database
	sweets    *mongo.Collection
	vouchers  *mongo.Collection
	purchases *mongo.Collection
	users     *mongo.Collection
	counters  *mongo.Collection
	log       *zap.Logger
}

// mongoWriteConflict is the server code for a transaction write conflict.
const mongoWriteConflict = 112

type sweetDocument struct {
	ID        int64                `bson:"_id"`
	Name      string               `bson:"name"`
	Category  string               `bson:"category"`
	Price     primitive.Decimal128 `bson:"price"`
	Quantity  int                  `bson:"quantity"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

type voucherDocument struct {
	Code            string    `bson:"_id"`
	DiscountPercent int       `bson:"discount_percent"`
	Active          bool      `bson:"active"`
	ValidUntil      time.Time `bson:"valid_until"`
}

type purchaseDocument struct {
	ID          int64                `bson:"_id"`
	UserID      int64                `bson:"user_id"`
	SweetID     int64                `bson:"sweet_id"`
	Quantity    int                  `bson:"quantity"`
	TotalCost   primitive.Decimal128 `bson:"total_cost"`
	VoucherCode *string              `bson:"voucher_code,omitempty"`
	CreatedAt   time.Time            `bson:"created_at"`
}

type userDocument struct {
	ID           int64     `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	CreatedAt    time.Time `bson:"created_at"`
}

// NewMongoDBStore connects to MongoDB and ensures indexes.
func NewMongoDBStore(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	s := &MongoDBStore{
		client:    client,
		db:        db,
		sweets:    db.Collection("sweets"),
		vouchers:  db.Collection("vouchers"),
		purchases: db.Collection("purchases"),
		users:     db.Collection("users"),
		counters:  db.Collection("counters"),
		log:       logger.Named("mongodb"),
	}

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.sweets, mongo.IndexModel{Keys: bson.D{{Key: "category", Value: 1}}}},
		{s.purchases, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			s.log.Warn("failed to create index", zap.String("collection", idx.coll.Name()), zap.Error(err))
		}
	}

	s.log.Info("connected", zap.String("database", database))
	return s, nil
}

func mongoWrap(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrDuplicate, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorCode(mongoWriteConflict)) {
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.StringFixed(2))
	if err != nil {
		// StringFixed output always parses.
		panic(err)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}

func (d *sweetDocument) toModel() (*model.InventoryItem, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price on sweet %d: %w", d.ID, err)
	}
	return &model.InventoryItem{
		ID:            d.ID,
		Name:          d.Name,
		Category:      model.Category(d.Category),
		UnitPrice:     price,
		StockQuantity: d.Quantity,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

func (d *voucherDocument) toModel() *model.Voucher {
	return &model.Voucher{Code: d.Code, DiscountPercent: d.DiscountPercent, Active: d.Active, ValidUntil: d.ValidUntil}
}

func (d *userDocument) toModel() *model.User {
	return &model.User{ID: d.ID, Name: d.Name, Email: d.Email, PasswordHash: d.PasswordHash, Role: model.Role(d.Role), CreatedAt: d.CreatedAt}
}

// nextID allocates the next value of a named sequence.
func (s *MongoDBStore) nextID(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&doc)
	if err != nil {
		return 0, mongoWrap("failed to allocate "+name+" id", err)
	}
	return doc.Seq, nil
}

// Name returns "mongodb".
func (s *MongoDBStore) Name() string { return "mongodb" }

// Ping checks server connectivity.
func (s *MongoDBStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

// CreateItem inserts a new item.
func (s *MongoDBStore) CreateItem(ctx context.Context, item *model.InventoryItem) error {
	id, err := s.nextID(ctx, "sweets")
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := sweetDocument{
		ID:        id,
		Name:      item.Name,
		Category:  string(item.Category),
		Price:     toDecimal128(item.UnitPrice),
		Quantity:  item.StockQuantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.sweets.InsertOne(ctx, doc); err != nil {
		return mongoWrap("failed to insert item", err)
	}
	item.ID = id
	item.CreatedAt, item.UpdatedAt = now, now
	return nil
}

// GetItem retrieves an item by ID.
func (s *MongoDBStore) GetItem(ctx context.Context, id int64) (*model.InventoryItem, error) {
	var doc sweetDocument
	if err := s.sweets.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoWrap("failed to get item", err)
	}
	return doc.toModel()
}

// ListItems returns every item, newest first.
func (s *MongoDBStore) ListItems(ctx context.Context) ([]model.InventoryItem, error) {
	return s.SearchItems(ctx, model.SearchFilter{})
}

// SearchItems filters server side. Decimal128 comparisons are exact.
func (s *MongoDBStore) SearchItems(ctx context.Context, filter model.SearchFilter) ([]model.InventoryItem, error) {
	q := bson.M{}
	if filter.Name != "" {
		q["name"] = primitive.Regex{Pattern: regexp.QuoteMeta(filter.Name), Options: "i"}
	}
	if filter.Category != "" {
		q["category"] = string(filter.Category)
	}
	price := bson.M{}
	if filter.MinPrice != nil {
		price["$gte"] = toDecimal128(*filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		price["$lte"] = toDecimal128(*filter.MaxPrice)
	}
	if len(price) > 0 {
		q["price"] = price
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.sweets.Find(ctx, q, opts)
	if err != nil {
		return nil, mongoWrap("failed to query items", err)
	}
	defer cur.Close(ctx)

	items := []model.InventoryItem{}
	for cur.Next(ctx) {
		var doc sweetDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		it, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, cur.Err()
}

// DeleteItem removes an item. Ledger documents for it are kept.
func (s *MongoDBStore) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.sweets.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoWrap("failed to delete item", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateVoucher inserts a voucher.
func (s *MongoDBStore) CreateVoucher(ctx context.Context, v *model.Voucher) error {
	doc := voucherDocument{Code: v.Code, DiscountPercent: v.DiscountPercent, Active: v.Active, ValidUntil: v.ValidUntil.UTC()}
	if _, err := s.vouchers.InsertOne(ctx, doc); err != nil {
		return mongoWrap("failed to insert voucher", err)
	}
	return nil
}

// GetVoucher retrieves a voucher by code.
func (s *MongoDBStore) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	var doc voucherDocument
	if err := s.vouchers.FindOne(ctx, bson.M{"_id": code}).Decode(&doc); err != nil {
		return nil, mongoWrap("failed to get voucher", err)
	}
	return doc.toModel(), nil
}

// ListVouchers returns all vouchers ordered by code.
func (s *MongoDBStore) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	cur, err := s.vouchers.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mongoWrap("failed to list vouchers", err)
	}
	defer cur.Close(ctx)

	vouchers := []model.Voucher{}
	for cur.Next(ctx) {
		var doc voucherDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode voucher: %w", err)
		}
		vouchers = append(vouchers, *doc.toModel())
	}
	return vouchers, cur.Err()
}

// DeactivateExpiredVouchers deactivates every active voucher past its validity.
func (s *MongoDBStore) DeactivateExpiredVouchers(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.vouchers.UpdateMany(ctx,
		bson.M{"active": true, "valid_until": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return 0, mongoWrap("failed to deactivate vouchers", err)
	}
	if res.ModifiedCount > 0 {
		s.log.Info("deactivated expired vouchers", zap.Int64("count", res.ModifiedCount))
	}
	return res.ModifiedCount, nil
}

// ListPurchasesByUser returns a user's purchases, newest first.
func (s *MongoDBStore) ListPurchasesByUser(ctx context.Context, userID int64) ([]model.PurchaseRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.purchases.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, mongoWrap("failed to list purchases", err)
	}
	defer cur.Close(ctx)

	records := []model.PurchaseRecord{}
	for cur.Next(ctx) {
		var doc purchaseDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode purchase: %w", err)
		}
		total, err := fromDecimal128(doc.TotalCost)
		if err != nil {
			return nil, fmt.Errorf("invalid total on purchase %d: %w", doc.ID, err)
		}
		records = append(records, model.PurchaseRecord{
			ID:          doc.ID,
			UserID:      doc.UserID,
			SweetID:     doc.SweetID,
			Quantity:    doc.Quantity,
			TotalCost:   total,
			VoucherCode: doc.VoucherCode,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return records, cur.Err()
}

// CreateUser inserts a user and fills in its ID.
func (s *MongoDBStore) CreateUser(ctx context.Context, u *model.User) error {
	id, err := s.nextID(ctx, "users")
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := userDocument{ID: id, Name: u.Name, Email: u.Email, PasswordHash: u.PasswordHash, Role: string(u.Role), CreatedAt: now}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return mongoWrap("failed to insert user", err)
	}
	u.ID, u.CreatedAt = id, now
	return nil
}

// GetUserByEmail finds a user by email.
func (s *MongoDBStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, bson.M{"email": email})
}

// GetUserByID finds a user by ID.
func (s *MongoDBStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, bson.M{"_id": id})
}

func (s *MongoDBStore) getUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mongoWrap("failed to get user", err)
	}
	return doc.toModel(), nil
}

// RunInTx runs fn in a snapshot transaction with majority write concern.
// A concurrent write to the same item aborts one side with a
// TransientTransactionError, which surfaces as ErrConflict.
func (s *MongoDBStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return mongoWrap("failed to start session", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.New(writeconcern.WMajority()))

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txOpts); err != nil {
			return mongoWrap("failed to begin transaction", err)
		}

		if err := fn(sc, &mongoTx{s: s, base: ctx}); err != nil {
			if abortErr := sess.AbortTransaction(context.WithoutCancel(sc)); abortErr != nil {
				s.log.Warn("abort failed", zap.Error(abortErr))
			}
			return err
		}

		if err := sess.CommitTransaction(sc); err != nil {
			return mongoWrap("failed to commit transaction", err)
		}
		return nil
	})
}

// GetStats returns document counts for every collection.
func (s *MongoDBStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"store": "mongodb", "status": "connected"}
	for name, coll := range map[string]*mongo.Collection{
		"sweets":    s.sweets,
		"vouchers":  s.vouchers,
		"purchases": s.purchases,
		"users":     s.users,
	} {
		count, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return stats, mongoWrap("failed to count "+name, err)
		}
		stats["total_"+name] = count
	}
	return stats, nil
}

// Close closes the MongoDB connection.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type mongoTx struct {
	s *MongoDBStore
	// base is the caller context without the session, used for sequence
	// allocation so counters never join the transaction's write set.
	base context.Context
}

// ReadItemForUpdate touches the document so the transaction owns its write
// lock from this point on.
func (t *mongoTx) ReadItemForUpdate(ctx context.Context, id int64) (*model.InventoryItem, error) {
	var doc sweetDocument
	err := t.s.sweets.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"locked_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, mongoWrap("failed to get item with lock", err)
	}
	return doc.toModel()
}

func (t *mongoTx) WriteItem(ctx context.Context, item *model.InventoryItem) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := t.s.sweets.UpdateOne(ctx, bson.M{"_id": item.ID}, bson.M{"$set": bson.M{
		"name":       item.Name,
		"category":   string(item.Category),
		"price":      toDecimal128(item.UnitPrice),
		"quantity":   item.StockQuantity,
		"updated_at": now,
	}})
	if err != nil {
		return mongoWrap("failed to write item", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	item.UpdatedAt = now
	return nil
}

func (t *mongoTx) ReadVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	var doc voucherDocument
	if err := t.s.vouchers.FindOne(ctx, bson.M{"_id": code}).Decode(&doc); err != nil {
		return nil, mongoWrap("failed to read voucher", err)
	}
	return doc.toModel(), nil
}

func (t *mongoTx) AppendPurchase(ctx context.Context, rec *model.PurchaseRecord) error {
	id, err := t.s.nextID(t.base, "purchases")
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	doc := purchaseDocument{
		ID:          id,
		UserID:      rec.UserID,
		SweetID:     rec.SweetID,
		Quantity:    rec.Quantity,
		TotalCost:   toDecimal128(rec.TotalCost),
		VoucherCode: rec.VoucherCode,
		CreatedAt:   rec.CreatedAt,
	}
	if _, err := t.s.purchases.InsertOne(ctx, doc); err != nil {
		return mongoWrap("failed to append purchase", err)
	}
	rec.ID = id
	return nil
}

var _ Store = (*MongoDBStore)(nil)
