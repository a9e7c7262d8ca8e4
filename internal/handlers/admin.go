package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/platform/httpx"
	"github.com/linenloft/api/internal/services"
)

// AdminHandlers exposes the operator surface: order listing, fulfillment
// transitions, the return review workflow, and stock adjustments.
type AdminHandlers struct {
	orders    services.OrderService
	returns   services.ReturnService
	inventory services.InventoryService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(orders services.OrderService, returns services.ReturnService, inventory services.InventoryService) *AdminHandlers {
	return &AdminHandlers{
		orders:    orders,
		returns:   returns,
		inventory: inventory,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}/ship", h.shipOrder)
	r.Post("/orders/{orderID}/deliver", h.deliverOrder)
	r.Post("/orders/{orderID}/invoice", h.requestInvoice)
	r.Get("/returns/{returnID}", h.getReturn)
	r.Post("/returns/{returnID}/approve", h.approveReturn)
	r.Post("/returns/{returnID}/reject", h.rejectReturn)
	r.Post("/returns/{returnID}/receive", h.receiveReturn)
	r.Post("/returns/{returnID}/complete", h.completeReturn)
	r.Get("/variants/{variantID}", h.getVariant)
	r.Post("/variants/{variantID}/restock", h.restockVariant)
}

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type rejectReturnRequest struct {
	Reason string `json:"reason"`
}

type completeReturnItem struct {
	OrderLineID string `json:"order_line_id"`
	Restock     bool   `json:"restock"`
}

type completeReturnRequest struct {
	Items []completeReturnItem `json:"items"`
}

type restockVariantRequest struct {
	Quantity int `json:"quantity"`
}

type variantPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Size        string `json:"size"`
	UnitPrice   int64  `json:"unit_price"`
	StockCount  int    `json:"stock_count"`
}

type variantResponse struct {
	Variant variantPayload `json:"variant"`
}

func buildVariantPayload(variant domain.Variant) variantPayload {
	return variantPayload{
		ID:          variant.ID,
		ProductID:   variant.ProductID,
		ProductName: variant.ProductName,
		SKU:         variant.SKU,
		Size:        variant.Size,
		UnitPrice:   variant.UnitPrice,
		StockCount:  variant.StockCount,
	}
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				statuses = append(statuses, domain.OrderStatus(trimmed))
			}
		}
	}

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	orders, err := h.orders.List(ctx, services.OrderListQuery{
		Status: statuses,
		Email:  strings.TrimSpace(query.Get("email")),
		Limit:  limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *AdminHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(ctx context.Context, orderID string) (domain.Order, error) {
		return h.orders.MarkShipped(ctx, orderID)
	})
}

func (h *AdminHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(ctx context.Context, orderID string) (domain.Order, error) {
		return h.orders.MarkDelivered(ctx, orderID)
	})
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, orderID string) (domain.Order, error)) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := apply(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) requestInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.RequestInvoice(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (h *AdminHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	ret, err := h.returns.GetReturn(ctx, returnID)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *AdminHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.transitionReturn(w, r, func(ctx context.Context, returnID string) (domain.Return, error) {
		return h.returns.ApproveReturn(ctx, returnID)
	})
}

func (h *AdminHandlers) receiveReturn(w http.ResponseWriter, r *http.Request) {
	h.transitionReturn(w, r, func(ctx context.Context, returnID string) (domain.Return, error) {
		return h.returns.MarkReturnReceived(ctx, returnID)
	})
}

func (h *AdminHandlers) transitionReturn(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, returnID string) (domain.Return, error)) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	ret, err := apply(ctx, returnID)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *AdminHandlers) rejectReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req rejectReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	ret, err := h.returns.RejectReturn(ctx, returnID, req.Reason)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *AdminHandlers) completeReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	var req completeReturnRequest
	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	items := make([]services.ReturnCompleteItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.ReturnCompleteItem{
			OrderLineID: strings.TrimSpace(item.OrderLineID),
			Restock:     item.Restock,
		})
	}

	ret, err := h.returns.CompleteReturn(ctx, returnID, items)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *AdminHandlers) getVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant id is required", http.StatusBadRequest))
		return
	}

	variant, err := h.inventory.Availability(ctx, variantID)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, variantResponse{Variant: buildVariantPayload(variant)})
}

func (h *AdminHandlers) restockVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req restockVariantRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	if err := h.inventory.Restore(ctx, variantID, req.Quantity); err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	variant, err := h.inventory.Availability(ctx, variantID)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, variantResponse{Variant: buildVariantPayload(variant)})
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
