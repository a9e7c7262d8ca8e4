package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/linenloft/api/internal/platform/httpx"
	"github.com/linenloft/api/internal/services"
)

const maxOrderRequestBody = 8 * 1024

// OrderHandlers exposes the customer-facing order surface: lookup, cancel
// and the return request flow.
type OrderHandlers struct {
	orders  services.OrderService
	returns services.ReturnService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, returns services.ReturnService) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		returns: returns,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/returns", h.requestReturn)
	r.Get("/{orderID}/returns", h.listReturns)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type returnRequestItem struct {
	OrderLineID string `json:"order_line_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
}

type returnRequest struct {
	Items  []returnRequestItem `json:"items"`
	Reason string              `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnListResponse struct {
	Items []returnPayload `json:"items"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
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

	order, err := h.returns.Cancel(ctx, services.CancelCommand{
		OrderID: orderID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
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

	var req returnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]services.ReturnRequestItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.ReturnRequestItem{
			OrderLineID: strings.TrimSpace(item.OrderLineID),
			Quantity:    item.Quantity,
			Reason:      item.Reason,
		})
	}

	ret, err := h.returns.RequestReturn(ctx, services.ReturnRequestCommand{
		OrderID: orderID,
		Items:   items,
		Reason:  req.Reason,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *OrderHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	returns, err := h.returns.ListReturns(ctx, orderID)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	items := make([]returnPayload, 0, len(returns))
	for _, ret := range returns {
		items = append(items, buildReturnPayload(ret))
	}

	httpx.WriteJSON(w, http.StatusOK, returnListResponse{Items: items})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order is not in a state that allows this action", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("return_invalid_state", "order or return is not in a state that allows this action", http.StatusConflict))
	case errors.Is(err, services.ErrReturnWindowClosed):
		httpx.WriteError(ctx, w, httpx.NewError("return_window_closed", "the return window for this order has closed", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnAlreadyOpen):
		httpx.WriteError(ctx, w, httpx.NewError("return_already_open", "an open return already exists for this order", http.StatusConflict))
	case errors.Is(err, services.ErrReturnQuantityExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("return_quantity_exceeded", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("return_error", "failed to process return request", http.StatusInternalServerError))
	}
}
