package apierror

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSON(t *testing.T) {
	err := ValidationError("invalid input", FieldError{Field: "name", Message: "required"})

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(err.ToJSON(), &body))

	assert.Equal(t, false, body["success"])
	inner := body["error"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_ERROR", inner["code"])
	assert.Equal(t, "invalid input", inner["message"])
	assert.Len(t, inner["details"], 1)
}

func TestToJSON_OmitsEmptyDetails(t *testing.T) {
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(NotFound("").ToJSON(), &body))

	_, ok := body["error"]["details"]
	assert.False(t, ok)
	assert.Equal(t, "Resource not found", body["error"]["message"])
}

func TestDomainConstructors(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
		code   string
	}{
		{ItemNotFound("x"), http.StatusNotFound, "ITEM_NOT_FOUND"},
		{VoucherNotFound("x"), http.StatusNotFound, "VOUCHER_NOT_FOUND"},
		{InsufficientStock("x"), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{InvalidVoucher("x"), http.StatusUnprocessableEntity, "INVALID_VOUCHER"},
		{InvalidQuantity("x"), http.StatusBadRequest, "INVALID_QUANTITY"},
		{DuplicateRequest("x"), http.StatusConflict, "DUPLICATE_REQUEST"},
		{ServiceUnavailable(""), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}
