package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linenloft/api/internal/domain"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = 64 * 1024
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return formatTime(*ts)
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Email       string `json:"email"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	Status          string             `json:"status"`
	Currency        string             `json:"currency"`
	Customer        contactPayload     `json:"customer"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	Lines           []orderLinePayload `json:"lines"`
	Totals          orderTotalsPayload `json:"totals"`
	CouponCode      *string            `json:"coupon_code,omitempty"`
	CancelReason    *string            `json:"cancel_reason,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
	PaidAt          string             `json:"paid_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
}

type contactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type orderLinePayload struct {
	ID          string `json:"id"`
	VariantID   string `json:"variant_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Size        string `json:"size,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Total       int64  `json:"total"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

type returnPayload struct {
	ID           string              `json:"id"`
	OrderID      string              `json:"order_id"`
	Status       string              `json:"status"`
	Reason       string              `json:"reason,omitempty"`
	RejectReason *string             `json:"reject_reason,omitempty"`
	RefundAmount int64               `json:"refund_amount"`
	Items        []returnItemPayload `json:"items"`
	RequestedAt  string              `json:"requested_at"`
	ApprovedAt   string              `json:"approved_at,omitempty"`
	RejectedAt   string              `json:"rejected_at,omitempty"`
	ReceivedAt   string              `json:"received_at,omitempty"`
	CompletedAt  string              `json:"completed_at,omitempty"`
}

type returnItemPayload struct {
	OrderLineID string `json:"order_line_id"`
	VariantID   string `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason,omitempty"`
	UnitPrice   int64  `json:"unit_price"`
	Restock     bool   `json:"restock"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.Number,
		Status:      string(order.Status),
		Email:       order.Customer.Email,
		Currency:    order.Currency,
		Total:       order.Total,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			ID:          line.ID,
			VariantID:   line.VariantID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Size:        line.Size,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.UnitPrice * int64(line.Quantity),
		})
	}

	return orderPayload{
		ID:          order.ID,
		OrderNumber: order.Number,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Customer: contactPayload{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		ShippingAddress: addressPayload{
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		Lines: lines,
		Totals: orderTotalsPayload{
			Subtotal: order.Subtotal,
			Discount: order.DiscountAmount,
			Shipping: order.ShippingCost,
			Total:    order.Total,
		},
		CouponCode:   order.CouponCode,
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		PaidAt:       formatTimePtr(order.PaidAt),
		ShippedAt:    formatTimePtr(order.ShippedAt),
		DeliveredAt:  formatTimePtr(order.DeliveredAt),
		CancelledAt:  formatTimePtr(order.CancelledAt),
	}
}

func buildReturnPayload(ret domain.Return) returnPayload {
	items := make([]returnItemPayload, 0, len(ret.Items))
	for _, item := range ret.Items {
		items = append(items, returnItemPayload{
			OrderLineID: item.OrderLineID,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			Reason:      item.Reason,
			UnitPrice:   item.UnitPrice,
			Restock:     item.Restock,
		})
	}

	return returnPayload{
		ID:           ret.ID,
		OrderID:      ret.OrderID,
		Status:       string(ret.Status),
		Reason:       ret.Reason,
		RejectReason: ret.RejectReason,
		RefundAmount: ret.RefundAmount,
		Items:        items,
		RequestedAt:  formatTime(ret.RequestedAt),
		ApprovedAt:   formatTimePtr(ret.ApprovedAt),
		RejectedAt:   formatTimePtr(ret.RejectedAt),
		ReceivedAt:   formatTimePtr(ret.ReceivedAt),
		CompletedAt:  formatTimePtr(ret.CompletedAt),
	}
}
