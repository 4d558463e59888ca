package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// voucherDeactivator is satisfied by VoucherService.
type voucherDeactivator interface {
	DeactivateExpired(ctx context.Context) (int64, error)
}

// SweeperConfig holds configuration for the voucher sweeper.
type SweeperConfig struct {
	// Interval is how often the sweep runs. Default: 1 hour
	Interval time.Duration

	// Timeout bounds a single sweep. Default: 1 minute
	Timeout time.Duration
}

// VoucherSweeper periodically deactivates expired vouchers so listings show
// their real state. Purchases check expiry on their own and do not depend on it.
type VoucherSweeper struct {
	vouchers  voucherDeactivator
	config    SweeperConfig
	log       *zap.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewVoucherSweeper creates a new sweeper.
func NewVoucherSweeper(vouchers voucherDeactivator, config SweeperConfig, logger *zap.Logger) *VoucherSweeper {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}

	return &VoucherSweeper{
		vouchers: vouchers,
		config:   config,
		log:      logger.Named("voucher-sweeper"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval.
func (s *VoucherSweeper) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.log.Info("started", zap.Duration("interval", s.config.Interval))

	go s.run()
}

func (s *VoucherSweeper) run() {
	defer close(s.doneCh)

	s.sweep()
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		}
	}
}

func (s *VoucherSweeper) sweep() {
	if _, err := s.RunNow(); err != nil {
		s.log.Error("sweep failed", zap.Error(err))
	}
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (s *VoucherSweeper) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()

		if running {
			<-s.doneCh
		}
	})
}

// RunNow triggers an immediate sweep.
func (s *VoucherSweeper) RunNow() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	n, err := s.vouchers.DeactivateExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("deactivated expired vouchers", zap.Int64("count", n))
	}
	return n, nil
}
