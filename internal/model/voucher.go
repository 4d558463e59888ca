package model

import "time"

// Voucher is a discount code. It can be redeemed while Active and not past ValidUntil.
type Voucher struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discountPercent"`
	Active          bool      `json:"active"`
	ValidUntil      time.Time `json:"validUntil"`
}

// Redeemable reports whether the voucher may be applied at now.
func (v *Voucher) Redeemable(now time.Time) bool {
	return v.Active && !now.After(v.ValidUntil)
}
