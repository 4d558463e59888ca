package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/internal/service"
	"sweetshop-rest-api/pkg/apierror"
	"sweetshop-rest-api/pkg/response"
)

// InventoryHandler handles sweet catalog and stock HTTP requests.
type InventoryHandler struct {
	catalog     *service.CatalogService
	coordinator *service.PurchaseCoordinator
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(catalog *service.CatalogService, coordinator *service.PurchaseCoordinator) *InventoryHandler {
	return &InventoryHandler{
		catalog:     catalog,
		coordinator: coordinator,
	}
}

// QuantityRequest is the body of restock requests.
type QuantityRequest struct {
	Quantity json.Number `json:"quantity"`
}

// PurchaseRequest is the body of purchase requests.
type PurchaseRequest struct {
	Quantity    json.Number `json:"quantity"`
	VoucherCode string      `json:"voucherCode"`
}

// parseQuantity rejects anything that is not an integer. Sign is checked by the coordinator.
func parseQuantity(n json.Number) (int, error) {
	q, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, service.ErrInvalidQuantity
	}
	return q, nil
}

func sweetID(r *http.Request) (int64, *apierror.Error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.BadRequest("invalid sweet id")
	}
	return id, nil
}

// List handles GET /api/sweets
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, items)
}

// Search handles GET /api/sweets/search
func (h *InventoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SearchFilter{
		Name:     q.Get("name"),
		Category: model.Category(strings.ToUpper(strings.TrimSpace(q.Get("category")))),
	}

	var details []apierror.FieldError
	for _, p := range []struct {
		param string
		dst   **decimal.Decimal
	}{
		{"minPrice", &filter.MinPrice},
		{"maxPrice", &filter.MaxPrice},
	} {
		raw := q.Get(p.param)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			details = append(details, apierror.FieldError{Field: p.param, Message: "must be a number"})
			continue
		}
		*p.dst = &d
	}
	if len(details) > 0 {
		response.Error(w, apierror.ValidationError("invalid input", details...))
		return
	}

	items, err := h.catalog.Search(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, items)
}

// Get handles GET /api/sweets/{id}
func (h *InventoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, apiErr := sweetID(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	item, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, item)
}

// Create handles POST /api/sweets
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.NewItem
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	req.Category = model.Category(strings.ToUpper(string(req.Category)))

	item, err := h.catalog.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, item)
}

// Update handles PUT /api/sweets/{id}
func (h *InventoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, apiErr := sweetID(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	var patch model.ItemPatch
	if apiErr := decodeJSON(r, &patch); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if patch.Category != nil {
		c := model.Category(strings.ToUpper(string(*patch.Category)))
		patch.Category = &c
	}

	item, err := h.catalog.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, item)
}

// Delete handles DELETE /api/sweets/{id}
func (h *InventoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, apiErr := sweetID(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	if err := h.catalog.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"id": id, "status": "deleted"})
}

// Purchase handles POST /api/sweets/{id}/purchase
func (h *InventoryHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, apiErr := sweetID(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	var req PurchaseRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	qty, err := parseQuantity(req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}

	claims, ok := tokenData(w, r)
	if !ok {
		return
	}
	result, err := h.coordinator.Purchase(r.Context(), service.PurchaseRequest{
		ItemID:         id,
		Quantity:       qty,
		UserID:         claims.UserID,
		VoucherCode:    req.VoucherCode,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, result)
}

// Restock handles POST /api/sweets/{id}/restock
func (h *InventoryHandler) Restock(w http.ResponseWriter, r *http.Request) {
	id, apiErr := sweetID(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	var req QuantityRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	qty, err := parseQuantity(req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}

	item, err := h.coordinator.Restock(r.Context(), id, qty)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, item)
}
