package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

type purchaseTestContext struct {
	store       *repository.MemoryStore
	coordinator *PurchaseCoordinator
	itemID      int64
	result      *PurchaseResult
	err         error
	outcomes    []error
}

func (c *purchaseTestContext) reset() {
	c.store = repository.NewMemoryStore()
	c.coordinator = NewPurchaseCoordinator(c.store, nil, nil, CoordinatorConfig{}, zap.NewNop())
	c.coordinator.now = func() time.Time { return testNow }
	c.itemID = 0
	c.result = nil
	c.err = nil
	c.outcomes = nil
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrInvalidVoucher):
		return "INVALID_VOUCHER"
	case errors.Is(err, ErrVoucherNotFound):
		return "VOUCHER_NOT_FOUND"
	case errors.Is(err, ErrInvalidQuantity):
		return "INVALID_QUANTITY"
	case errors.Is(err, ErrItemNotFound):
		return "ITEM_NOT_FOUND"
	default:
		return err.Error()
	}
}

func (c *purchaseTestContext) aSweetPricedWithStock(name, price string, qty int) error {
	item := &model.InventoryItem{
		Name:          name,
		Category:      model.CategoryChocolate,
		UnitPrice:     decimal.RequireFromString(price),
		StockQuantity: qty,
	}
	if err := c.store.CreateItem(context.Background(), item); err != nil {
		return err
	}
	c.itemID = item.ID
	return nil
}

func (c *purchaseTestContext) addVoucher(code string, pct int, validUntil time.Time) error {
	return c.store.CreateVoucher(context.Background(), &model.Voucher{
		Code:            code,
		DiscountPercent: pct,
		Active:          true,
		ValidUntil:      validUntil,
	})
}

func (c *purchaseTestContext) anActiveVoucher(code string, pct int) error {
	return c.addVoucher(code, pct, testNow.Add(24*time.Hour))
}

func (c *purchaseTestContext) anExpiredVoucher(code string, pct int) error {
	return c.addVoucher(code, pct, testNow.Add(-time.Hour))
}

func (c *purchaseTestContext) userBuys(user int64, qty int) error {
	return c.userBuysWithVoucher(user, qty, "")
}

func (c *purchaseTestContext) userBuysWithVoucher(user int64, qty int, code string) error {
	c.result, c.err = c.coordinator.Purchase(context.Background(), PurchaseRequest{
		ItemID:      c.itemID,
		Quantity:    qty,
		UserID:      user,
		VoucherCode: code,
	})
	return nil
}

func (c *purchaseTestContext) usersBuyConcurrently(users, qty int) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := c.coordinator.Purchase(context.Background(), PurchaseRequest{ItemID: c.itemID, Quantity: qty, UserID: user})
			mu.Lock()
			c.outcomes = append(c.outcomes, err)
			mu.Unlock()
		}(int64(i + 1))
	}
	wg.Wait()
	return nil
}

func (c *purchaseTestContext) anAdminRestocks(qty int) error {
	_, err := c.coordinator.Restock(context.Background(), c.itemID, qty)
	return err
}

func (c *purchaseTestContext) thePurchaseSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got %v", c.err)
	}
	return nil
}

func (c *purchaseTestContext) thePurchaseFailsWith(code string) error {
	if got := errorCode(c.err); got != code {
		return fmt.Errorf("expected %s, got %q", code, got)
	}
	return nil
}

func (c *purchaseTestContext) theTotalCostIs(want string) error {
	if c.result == nil {
		return errors.New("no purchase result")
	}
	if got := c.result.Purchase.TotalCost.StringFixed(2); got != want {
		return fmt.Errorf("expected total %s, got %s", want, got)
	}
	return nil
}

func (c *purchaseTestContext) theSweetHasInStock(want int) error {
	item, err := c.store.GetItem(context.Background(), c.itemID)
	if err != nil {
		return err
	}
	if item.StockQuantity != want {
		return fmt.Errorf("expected stock %d, got %d", want, item.StockQuantity)
	}
	return nil
}

func (c *purchaseTestContext) userHasPurchasesInLedger(user int64, want int) error {
	records, err := c.store.ListPurchasesByUser(context.Background(), user)
	if err != nil {
		return err
	}
	if len(records) != want {
		return fmt.Errorf("expected %d ledger entries, got %d", want, len(records))
	}
	return nil
}

func (c *purchaseTestContext) nPurchasesSucceed(want int) error {
	got := 0
	for _, err := range c.outcomes {
		if err == nil {
			got++
		}
	}
	if got != want {
		return fmt.Errorf("expected %d successes, got %d", want, got)
	}
	return nil
}

func (c *purchaseTestContext) nPurchasesFailWith(want int, code string) error {
	got := 0
	for _, err := range c.outcomes {
		if errorCode(err) == code {
			got++
		}
	}
	if got != want {
		return fmt.Errorf("expected %d failures with %s, got %d", want, code, got)
	}
	return nil
}

func InitializePurchaseScenario(ctx *godog.ScenarioContext) {
	tc := &purchaseTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a sweet "([^"]*)" priced "([^"]*)" with (\d+) in stock$`, tc.aSweetPricedWithStock)
	ctx.Step(`^an active voucher "([^"]*)" worth (\d+) percent$`, tc.anActiveVoucher)
	ctx.Step(`^an expired voucher "([^"]*)" worth (\d+) percent$`, tc.anExpiredVoucher)

	// When steps
	ctx.Step(`^user (\d+) buys (-?\d+) of the sweet$`, tc.userBuys)
	ctx.Step(`^user (\d+) buys (-?\d+) of the sweet with voucher "([^"]*)"$`, tc.userBuysWithVoucher)
	ctx.Step(`^(\d+) users each buy (\d+) of the sweet at the same time$`, tc.usersBuyConcurrently)
	ctx.Step(`^an admin restocks the sweet with (\d+)$`, tc.anAdminRestocks)

	// Then steps
	ctx.Step(`^the purchase succeeds$`, tc.thePurchaseSucceeds)
	ctx.Step(`^the purchase fails with "([^"]*)"$`, tc.thePurchaseFailsWith)
	ctx.Step(`^the total cost is "([^"]*)"$`, tc.theTotalCostIs)
	ctx.Step(`^the sweet has (\d+) in stock$`, tc.theSweetHasInStock)
	ctx.Step(`^user (\d+) has (\d+) purchases? in the ledger$`, tc.userHasPurchasesInLedger)
	ctx.Step(`^(\d+) purchases succeed$`, tc.nPurchasesSucceed)
	ctx.Step(`^(\d+) purchases? fails? with "([^"]*)"$`, tc.nPurchasesFailWith)
}

func TestPurchaseFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializePurchaseScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/purchase.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
