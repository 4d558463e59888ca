package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"sweetshop-rest-api/internal/middleware"
	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/service"
	"sweetshop-rest-api/pkg/apierror"
	"sweetshop-rest-api/pkg/response"
)

// toAPIError maps a service error to its HTTP representation.
func toAPIError(err error) *apierror.Error {
	var (
		validation *service.ValidationError
		stock      *service.InsufficientStockError
		storage    *service.StorageError
	)

	switch {
	case errors.As(err, &validation):
		details := make([]apierror.FieldError, 0, len(validation.Fields))
		for field, msg := range validation.Fields {
			details = append(details, apierror.FieldError{Field: field, Message: msg})
		}
		sort.Slice(details, func(i, j int) bool { return details[i].Field < details[j].Field })
		return apierror.ValidationError("invalid input", details...)
	case errors.As(err, &stock):
		return apierror.InsufficientStock(fmt.Sprintf("only %d left in stock", stock.Available))
	case errors.Is(err, service.ErrItemNotFound):
		return apierror.ItemNotFound("Sweet not found")
	case errors.Is(err, service.ErrVoucherNotFound):
		return apierror.VoucherNotFound("Voucher not found")
	case errors.Is(err, service.ErrInvalidVoucher):
		return apierror.InvalidVoucher("Voucher is inactive or expired")
	case errors.Is(err, service.ErrInvalidQuantity):
		return apierror.InvalidQuantity("Quantity must be a positive integer")
	case errors.Is(err, service.ErrEmailTaken):
		return apierror.Conflict("Email already registered")
	case errors.Is(err, service.ErrVoucherExists):
		return apierror.Conflict("Voucher code already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		return apierror.Unauthorized("Invalid email or password")
	case errors.Is(err, service.ErrInvalidToken):
		return apierror.Unauthorized("Invalid or expired token")
	case errors.Is(err, service.ErrDuplicateRequest):
		return apierror.DuplicateRequest("A request with this Idempotency-Key was already processed")
	case errors.As(err, &storage) && storage.Timeout():
		return apierror.ServiceUnavailable("")
	default:
		return apierror.InternalError("")
	}
}

// tokenData returns the caller's claims, writing a 401 when the route is not
// behind the auth middleware.
func tokenData(w http.ResponseWriter, r *http.Request) (*model.TokenData, bool) {
	claims := middleware.GetTokenDataFromContext(r.Context())
	if claims == nil {
		response.Error(w, apierror.Unauthorized("No token provided"))
		return nil, false
	}
	return claims, true
}

func writeError(w http.ResponseWriter, err error) {
	response.Error(w, toAPIError(err))
}

func decodeJSON(r *http.Request, v interface{}) *apierror.Error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	return nil
}
