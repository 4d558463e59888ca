package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/cache"
	"sweetshop-rest-api/internal/events"
	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
	"sweetshop-rest-api/pkg/uid"
)

const instrumentationName = "sweetshop-rest-api/internal/service"

// MaxStock is the largest stock level an item may hold; the SQL backends
// store quantities in 32-bit INT columns.
const MaxStock = math.MaxInt32

// PurchaseRequest describes one purchase attempt.
type PurchaseRequest struct {
	ItemID      int64
	Quantity    int
	UserID      int64
	VoucherCode string

	// IdempotencyKey, when set, makes a repeated request with the same key
	// fail with ErrDuplicateRequest instead of buying twice.
	IdempotencyKey string
}

// PurchaseResult is the committed outcome of a purchase.
type PurchaseResult struct {
	Item     *model.InventoryItem  `json:"sweet"`
	Purchase *model.PurchaseRecord `json:"purchase"`
}

// CoordinatorConfig bounds each unit of work.
type CoordinatorConfig struct {
	// TxTimeout caps one purchase or restock, retries included.
	TxTimeout time.Duration

	// MaxRetries is how many times a unit is re-run after a write conflict.
	MaxRetries uint64

	// RetryInterval is the initial backoff between conflict retries.
	RetryInterval time.Duration

	// IdempotencyTTL is how long a used idempotency key is remembered.
	IdempotencyTTL time.Duration
}

// Unit returns the transaction bounds of c.
func (c CoordinatorConfig) Unit() UnitConfig {
	return UnitConfig{TxTimeout: c.TxTimeout, MaxRetries: c.MaxRetries, RetryInterval: c.RetryInterval}
}

// DefaultCoordinatorConfig returns the defaults used when a field is zero.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TxTimeout:      5 * time.Second,
		MaxRetries:     3,
		RetryInterval:  20 * time.Millisecond,
		IdempotencyTTL: 10 * time.Minute,
	}
}

// PurchaseCoordinator runs purchases and restocks as atomic units against
// the store: stock is re-read under a write lock, checked, decremented and
// recorded in the ledger in one transaction, or nothing happens at all.
type PurchaseCoordinator struct {
	idem      cache.Cache
	publisher events.Publisher
	config    CoordinatorConfig
	log       *zap.Logger
	now       func() time.Time
	units     *unitRunner

	tracer    trace.Tracer
	outcomes  metric.Int64Counter
	durations metric.Float64Histogram
}

// NewPurchaseCoordinator creates a coordinator. idem and publisher may be nil,
// which disables idempotency keys and event publishing respectively.
func NewPurchaseCoordinator(
	store repository.Store,
	idem cache.Cache,
	publisher events.Publisher,
	config CoordinatorConfig,
	logger *zap.Logger,
) *PurchaseCoordinator {
	defaults := DefaultCoordinatorConfig()
	if config.TxTimeout <= 0 {
		config.TxTimeout = defaults.TxTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	c := &PurchaseCoordinator{
		idem:      idem,
		publisher: publisher,
		config:    config,
		log:       logger.Named("purchase"),
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
	}
	c.units = newUnitRunner(store, config.Unit(), c.log)

	meter := otel.Meter(instrumentationName)
	var err error
	if c.outcomes, err = meter.Int64Counter("sweetshop.units",
		metric.WithDescription("Purchase and restock units by outcome")); err != nil {
		c.log.Warn("failed to create metric", zap.Error(err))
	}
	if c.durations, err = meter.Float64Histogram("sweetshop.unit.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall time of purchase and restock units")); err != nil {
		c.log.Warn("failed to create metric", zap.Error(err))
	}

	return c
}

// TotalCost applies a percentage discount to unitPrice, multiplies by
// quantity and rounds half away from zero to two decimal places.
func TotalCost(unitPrice decimal.Decimal, discountPercent, quantity int) decimal.Decimal {
	factor := decimal.NewFromInt(int64(100 - discountPercent)).Div(decimal.NewFromInt(100))
	return unitPrice.Mul(factor).Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// Purchase buys req.Quantity units of an item for req.UserID.
//
// Failure modes: ErrInvalidQuantity, ErrItemNotFound, ErrInsufficientStock,
// ErrVoucherNotFound, ErrInvalidVoucher, ErrDuplicateRequest, *StorageError.
// On any error the stock and the ledger are unchanged.
func (c *PurchaseCoordinator) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	ctx, span := c.tracer.Start(ctx, "PurchaseCoordinator.Purchase", trace.WithAttributes(
		attribute.Int64("sweet.id", req.ItemID),
		attribute.Int("purchase.quantity", req.Quantity),
		attribute.Int64("user.id", req.UserID),
		attribute.Bool("purchase.voucher", req.VoucherCode != ""),
	))
	defer span.End()

	if req.Quantity <= 0 {
		return nil, c.finish(ctx, span, "purchase", time.Now(), ErrInvalidQuantity)
	}
	code := strings.ToUpper(strings.TrimSpace(req.VoucherCode))

	release, err := c.reserveIdempotencyKey(ctx, req)
	if err != nil {
		return nil, c.finish(ctx, span, "purchase", time.Now(), err)
	}

	start := time.Now()
	var result *PurchaseResult
	err = c.units.run(ctx, "purchase", func(ctx context.Context, tx repository.Tx) error {
		item, err := tx.ReadItemForUpdate(ctx, req.ItemID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		if item.StockQuantity < req.Quantity {
			return &InsufficientStockError{ItemID: item.ID, Requested: req.Quantity, Available: item.StockQuantity}
		}

		discount := 0
		var applied *string
		if code != "" {
			v, err := tx.ReadVoucher(ctx, code)
			if errors.Is(err, repository.ErrNotFound) {
				return ErrVoucherNotFound
			}
			if err != nil {
				return err
			}
			if !v.Redeemable(c.now()) {
				return ErrInvalidVoucher
			}
			discount = v.DiscountPercent
			applied = &v.Code
		}

		rec := &model.PurchaseRecord{
			UserID:      req.UserID,
			SweetID:     item.ID,
			Quantity:    req.Quantity,
			TotalCost:   TotalCost(item.UnitPrice, discount, req.Quantity),
			VoucherCode: applied,
		}

		item.StockQuantity -= req.Quantity
		if err := tx.WriteItem(ctx, item); err != nil {
			return err
		}
		if err := tx.AppendPurchase(ctx, rec); err != nil {
			return err
		}

		result = &PurchaseResult{Item: item, Purchase: rec}
		return nil
	})
	release(err == nil)
	if err != nil {
		return nil, c.finish(ctx, span, "purchase", start, err)
	}

	c.finish(ctx, span, "purchase", start, nil)
	c.log.Info("purchase committed",
		zap.Int64("purchase_id", result.Purchase.ID),
		zap.Int64("sweet_id", result.Item.ID),
		zap.Int64("user_id", req.UserID),
		zap.Int("quantity", req.Quantity),
		zap.String("total_cost", result.Purchase.TotalCost.StringFixed(2)),
		zap.Int("stock_left", result.Item.StockQuantity),
	)
	c.publish(ctx, events.New(events.TypeSweetPurchased, result.Item.ID, result.Purchase))
	return result, nil
}

// Restock adds quantity units to an item's stock and returns the updated item.
func (c *PurchaseCoordinator) Restock(ctx context.Context, itemID int64, quantity int) (*model.InventoryItem, error) {
	ctx, span := c.tracer.Start(ctx, "PurchaseCoordinator.Restock", trace.WithAttributes(
		attribute.Int64("sweet.id", itemID),
		attribute.Int("restock.quantity", quantity),
	))
	defer span.End()

	if quantity <= 0 {
		return nil, c.finish(ctx, span, "restock", time.Now(), ErrInvalidQuantity)
	}

	start := time.Now()
	var updated *model.InventoryItem
	err := c.units.run(ctx, "restock", func(ctx context.Context, tx repository.Tx) error {
		item, err := tx.ReadItemForUpdate(ctx, itemID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		if quantity > MaxStock-item.StockQuantity {
			return ErrInvalidQuantity
		}
		item.StockQuantity += quantity
		if err := tx.WriteItem(ctx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, c.finish(ctx, span, "restock", start, err)
	}

	c.finish(ctx, span, "restock", start, nil)
	c.log.Info("restock committed",
		zap.Int64("sweet_id", itemID),
		zap.Int("quantity", quantity),
		zap.Int("stock", updated.StockQuantity),
	)
	c.publish(ctx, events.New(events.TypeSweetRestocked, itemID, map[string]int{
		"quantity": quantity,
		"stock":    updated.StockQuantity,
	}))
	return updated, nil
}

// reserveIdempotencyKey claims req.IdempotencyKey. The returned release
// function must be called with the outcome; a failed purchase frees the key
// so the client may retry it.
func (c *PurchaseCoordinator) reserveIdempotencyKey(ctx context.Context, req PurchaseRequest) (func(success bool), error) {
	noop := func(bool) {}
	if req.IdempotencyKey == "" || c.idem == nil {
		return noop, nil
	}

	key := fmt.Sprintf("idem:purchase:%d:%s", req.UserID, req.IdempotencyKey)
	owner := []byte(uid.New())

	ok, err := c.idem.SetIfAbsent(ctx, key, owner, c.config.IdempotencyTTL)
	if err != nil {
		return noop, &StorageError{Op: "idempotency", Err: err}
	}
	if !ok {
		return noop, ErrDuplicateRequest
	}

	return func(success bool) {
		if success {
			return
		}
		if _, err := c.idem.CompareAndDelete(context.WithoutCancel(ctx), key, owner); err != nil {
			c.log.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (c *PurchaseCoordinator) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) error {
	outcome := "committed"
	switch {
	case err == nil:
	case errors.Is(err, ErrStorage):
		outcome = "storage_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("unit failed", zap.String("op", op), zap.Error(err))
	default:
		outcome = "rejected"
		span.SetAttributes(attribute.String("rejection", err.Error()))
	}

	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
	if c.outcomes != nil {
		c.outcomes.Add(ctx, 1, attrs)
	}
	if c.durations != nil {
		c.durations.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
	return err
}

func (c *PurchaseCoordinator) publish(ctx context.Context, e events.Event) {
	if err := c.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		c.log.Warn("event not published", zap.String("type", e.Type), zap.Error(err))
	}
}
