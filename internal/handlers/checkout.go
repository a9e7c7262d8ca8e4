package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/platform/httpx"
	"github.com/linenloft/api/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutMetrics counts checkout attempts by outcome.
type CheckoutMetrics interface {
	ObserveCheckout(outcome string)
}

type nopCheckoutMetrics struct{}

func (nopCheckoutMetrics) ObserveCheckout(string) {}

// CheckoutHandlers exposes the storefront checkout endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	metrics  CheckoutMetrics
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, metrics CheckoutMetrics) *CheckoutHandlers {
	if metrics == nil {
		metrics = nopCheckoutMetrics{}
	}
	return &CheckoutHandlers{
		checkout: checkout,
		metrics:  metrics,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.placeOrder)
}

type checkoutItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	ShippingAddress struct {
		Line1      string `json:"line1"`
		Line2      string `json:"line2"`
		City       string `json:"city"`
		PostalCode string `json:"postal_code"`
		Country    string `json:"country"`
	} `json:"shipping_address"`
	Items      []checkoutItemRequest `json:"items"`
	CouponCode string                `json:"coupon_code"`
	SuccessURL string                `json:"success_url"`
	CancelURL  string                `json:"cancel_url"`
}

type checkoutResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	RedirectURL string `json:"redirect_url"`
	Total       int64  `json:"total"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := make([]services.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutItem{
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
		})
	}

	cmd := services.CheckoutCommand{
		Customer: domain.CustomerContact{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		ShippingAddress: domain.Address{
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		Items:      items,
		CouponCode: req.CouponCode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		h.metrics.ObserveCheckout(checkoutOutcome(err))
		h.writeCheckoutError(ctx, w, err)
		return
	}

	h.metrics.ObserveCheckout("placed")
	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		RedirectURL: result.RedirectURL,
		Total:       result.Total,
	})
}

func checkoutOutcome(err error) string {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		return "invalid_input"
	case errors.Is(err, services.ErrCheckoutVariantNotFound):
		return "unknown_variant"
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, services.ErrCouponNotFound),
		errors.Is(err, services.ErrCouponNotYetActive),
		errors.Is(err, services.ErrCouponExpired),
		errors.Is(err, services.ErrCouponMinimumNotMet),
		errors.Is(err, services.ErrCouponUsageLimitReached),
		errors.Is(err, services.ErrCouponAlreadyUsed),
		errors.Is(err, services.ErrCouponInvalidInput):
		return "coupon_rejected"
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		return "payment_failed"
	default:
		return "error"
	}
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_variant", "one or more variants do not exist", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon code is not valid", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponNotYetActive):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_yet_active", "coupon is not active yet", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_minimum_not_met", "order amount is below the coupon minimum", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponUsageLimitReached):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_usage_limit_reached", "coupon usage limit has been reached", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponAlreadyUsed):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_already_used", "coupon was already used by this customer", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment session could not be opened", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
