package handler

import (
	"net/http"
	"time"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/service"
	"sweetshop-rest-api/pkg/response"
)

// LedgerHandler serves purchase history and voucher management.
type LedgerHandler struct {
	ledger   *service.LedgerService
	vouchers *service.VoucherService
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(ledger *service.LedgerService, vouchers *service.VoucherService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, vouchers: vouchers}
}

// History handles GET /api/purchases
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := tokenData(w, r)
	if !ok {
		return
	}

	records, err := h.ledger.History(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, records)
}

// VoucherRequest is the body of voucher creation. Active defaults to true.
type VoucherRequest struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discountPercent"`
	Active          *bool     `json:"active"`
	ValidUntil      time.Time `json:"validUntil"`
}

// CreateVoucher handles POST /api/vouchers
func (h *LedgerHandler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	v := model.Voucher{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		Active:          req.Active == nil || *req.Active,
		ValidUntil:      req.ValidUntil,
	}
	created, err := h.vouchers.Create(r.Context(), v)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, created)
}

// ListVouchers handles GET /api/vouchers
func (h *LedgerHandler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.vouchers.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, vouchers)
}
