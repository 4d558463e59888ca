package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/repository"
)

// UnitConfig bounds every store transaction a service runs.
type UnitConfig struct {
	// TxTimeout caps one unit, retries included.
	TxTimeout time.Duration

	// MaxRetries is how many times a unit is re-run after a write conflict.
	MaxRetries uint64

	// RetryInterval is the initial backoff between conflict retries.
	RetryInterval time.Duration
}

// unitRunner executes store transactions with a deadline that does not
// follow the caller's cancellation, retrying write conflicts with
// exponential backoff.
type unitRunner struct {
	store   repository.Store
	config  UnitConfig
	log     *zap.Logger
	retries metric.Int64Counter
}

func newUnitRunner(store repository.Store, config UnitConfig, logger *zap.Logger) *unitRunner {
	defaults := DefaultCoordinatorConfig()
	if config.TxTimeout <= 0 {
		config.TxTimeout = defaults.TxTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}

	u := &unitRunner{store: store, config: config, log: logger}
	var err error
	if u.retries, err = otel.Meter(instrumentationName).Int64Counter("sweetshop.unit.retries",
		metric.WithDescription("Units re-run after a write conflict")); err != nil {
		logger.Warn("failed to create metric", zap.Error(err))
	}
	return u
}

// run executes fn in a store transaction bounded by TxTimeout. The unit is
// detached from ctx's cancellation so it always ends in either a commit or a
// rollback. Domain errors pass through; anything else becomes *StorageError.
func (u *unitRunner) run(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.config.TxTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.config.RetryInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	operation := func() error {
		attempt++
		err := u.store.RunInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrConflict) && ctx.Err() == nil {
			u.log.Debug("write conflict, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			if u.retries != nil {
				u.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			}
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, u.config.MaxRetries), ctx))
	if err != nil && ctx.Err() != nil && !isDomainError(err) {
		err = fmt.Errorf("%s unit exceeded %s: %w", op, u.config.TxTimeout, context.DeadlineExceeded)
	}
	return asStorageError(op, err)
}
