package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/repository"
)

// VoucherService manages discount vouchers.
type VoucherService struct {
	vouchers repository.VoucherRepository
	log      *zap.Logger
	now      func() time.Time
}

// NewVoucherService creates a new voucher service.
func NewVoucherService(vouchers repository.VoucherRepository, logger *zap.Logger) *VoucherService {
	return &VoucherService{vouchers: vouchers, log: logger.Named("voucher"), now: time.Now}
}

// Create registers a voucher. Codes are stored upper-case.
func (s *VoucherService) Create(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))

	fields := map[string]string{}
	if v.Code == "" {
		fields["code"] = "is required"
	}
	if v.DiscountPercent < 0 || v.DiscountPercent > 100 {
		fields["discountPercent"] = "must be between 0 and 100"
	}
	if v.ValidUntil.IsZero() {
		fields["validUntil"] = "is required"
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}

	if err := s.vouchers.CreateVoucher(ctx, &v); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrVoucherExists
		}
		return nil, asStorageError("create voucher", err)
	}

	s.log.Info("voucher created", zap.String("code", v.Code), zap.Int("percent", v.DiscountPercent))
	return &v, nil
}

// List returns all vouchers.
func (s *VoucherService) List(ctx context.Context) ([]model.Voucher, error) {
	vouchers, err := s.vouchers.ListVouchers(ctx)
	if err != nil {
		return nil, asStorageError("list vouchers", err)
	}
	return vouchers, nil
}

// DeactivateExpired flips every voucher past its validity to inactive.
func (s *VoucherService) DeactivateExpired(ctx context.Context) (int64, error) {
	n, err := s.vouchers.DeactivateExpiredVouchers(ctx, s.now())
	if err != nil {
		return 0, asStorageError("deactivate vouchers", err)
	}
	return n, nil
}
