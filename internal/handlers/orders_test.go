package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/services"
)

type stubOrderService struct {
	order      domain.Order
	orders     []domain.Order
	err        error
	lastQuery  services.OrderListQuery
	invoiced   []string
	shipped    []string
	delivered  []string
	invoiceErr error
}

func (s *stubOrderService) Get(context.Context, string) (domain.Order, error) {
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return s.order, nil
}

func (s *stubOrderService) List(_ context.Context, query services.OrderListQuery) ([]domain.Order, error) {
	s.lastQuery = query
	if s.err != nil {
		return nil, s.err
	}
	return s.orders, nil
}

func (s *stubOrderService) MarkShipped(_ context.Context, orderID string) (domain.Order, error) {
	s.shipped = append(s.shipped, orderID)
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return s.order, nil
}

func (s *stubOrderService) MarkDelivered(_ context.Context, orderID string) (domain.Order, error) {
	s.delivered = append(s.delivered, orderID)
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return s.order, nil
}

func (s *stubOrderService) RequestInvoice(_ context.Context, orderID string) error {
	s.invoiced = append(s.invoiced, orderID)
	return s.invoiceErr
}

type stubReturnService struct {
	order       domain.Order
	ret         domain.Return
	returns     []domain.Return
	err         error
	lastCancel  services.CancelCommand
	lastRequest services.ReturnRequestCommand
	lastItems   []services.ReturnCompleteItem
	lastReject  string
}

func (s *stubReturnService) Cancel(_ context.Context, cmd services.CancelCommand) (domain.Order, error) {
	s.lastCancel = cmd
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return s.order, nil
}

func (s *stubReturnService) RequestReturn(_ context.Context, cmd services.ReturnRequestCommand) (domain.Return, error) {
	s.lastRequest = cmd
	if s.err != nil {
		return domain.Return{}, s.err
	}
	return s.ret, nil
}

func (s *stubReturnService) ApproveReturn(context.Context, string) (domain.Return, error) {
	if s.err != nil {
		return domain.Return{}, s.err
	}
	return s.ret, nil
}

func (s *stubReturnService) RejectReturn(_ context.Context, _ string, reason string) (domain.Return, error) {
	s.lastReject = reason
	if s.err != nil {
		return domain.Return{}, s.err
	}
	return s.ret, nil
}

func (s *stubReturnService) MarkReturnReceived(context.Context, string) (domain.Return, error) {
	if s.err != nil {
		return domain.Return{}, s.err
	}
	return s.ret, nil
}

func (s *stubReturnService) CompleteReturn(_ context.Context, _ string, items []services.ReturnCompleteItem) (domain.Return, error) {
	s.lastItems = items
	if s.err != nil {
		return domain.Return{}, s.err
	}
	return s.ret, nil
}

func (s *stubReturnService) GetReturn(context.Context, string) (domain.Return, error) {
	if s.err != nil {
		return domain.Return{}, s.err
	}
	return s.ret, nil
}

func (s *stubReturnService) ListReturns(context.Context, string) ([]domain.Return, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.returns, nil
}

func sampleOrder() domain.Order {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	paid := created.Add(5 * time.Minute)
	return domain.Order{
		ID:     "ord_123",
		Number: "LL-2026-000001",
		Status: domain.OrderStatusPaid,
		Customer: domain.CustomerContact{
			Name:  "Ada Kovacs",
			Email: "ada@example.com",
		},
		ShippingAddress: domain.Address{
			Line1:      "Main St 1",
			City:       "Berlin",
			PostalCode: "10115",
			Country:    "DE",
		},
		Lines: []domain.OrderLine{{
			ID:          "oln_1",
			OrderID:     "ord_123",
			VariantID:   "var_shirt_m",
			ProductName: "Linen Shirt",
			SKU:         "LL-SHIRT-M",
			Size:        "M",
			Quantity:    2,
			UnitPrice:   4500,
		}},
		Subtotal:     9000,
		ShippingCost: 500,
		Total:        9500,
		Currency:     "EUR",
		CreatedAt:    created,
		UpdatedAt:    paid,
		PaidAt:       &paid,
	}
}

func sampleReturn() domain.Return {
	requested := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return domain.Return{
		ID:      "ret_1",
		OrderID: "ord_123",
		Status:  domain.ReturnStatusRequested,
		Items: []domain.ReturnItem{{
			OrderLineID: "oln_1",
			VariantID:   "var_shirt_m",
			Quantity:    1,
			Reason:      "too small",
			UnitPrice:   4500,
			Restock:     true,
		}},
		Reason:      "too small",
		RequestedAt: requested,
		UpdatedAt:   requested,
	}
}

func newOrderRouter(orders services.OrderService, returns services.ReturnService) chi.Router {
	r := chi.NewRouter()
	NewOrderHandlers(orders, returns).Routes(r)
	return r
}

func TestGetOrder(t *testing.T) {
	router := newOrderRouter(&stubOrderService{order: sampleOrder()}, &stubReturnService{})

	req := httptest.NewRequest(http.MethodGet, "/ord_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_123" {
		t.Errorf("unexpected order id: %s", resp.Order.ID)
	}
	if resp.Order.Status != "paid" {
		t.Errorf("unexpected status: %s", resp.Order.Status)
	}
	if resp.Order.Totals.Total != 9500 {
		t.Errorf("unexpected total: %d", resp.Order.Totals.Total)
	}
	if len(resp.Order.Lines) != 1 || resp.Order.Lines[0].Total != 9000 {
		t.Errorf("unexpected lines: %+v", resp.Order.Lines)
	}
	if resp.Order.PaidAt == "" {
		t.Error("expected paid_at to be set")
	}
}

func TestGetOrderNotFound(t *testing.T) {
	router := newOrderRouter(&stubOrderService{err: services.ErrOrderNotFound}, &stubReturnService{})

	req := httptest.NewRequest(http.MethodGet, "/ord_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCancelOrder(t *testing.T) {
	cancelled := sampleOrder()
	cancelled.Status = domain.OrderStatusCancelled
	returns := &stubReturnService{order: cancelled}
	router := newOrderRouter(&stubOrderService{}, returns)

	req := httptest.NewRequest(http.MethodPost, "/ord_123/cancel", strings.NewReader(`{"reason": "changed my mind"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if returns.lastCancel.OrderID != "ord_123" {
		t.Errorf("unexpected cancel order id: %s", returns.lastCancel.OrderID)
	}
	if returns.lastCancel.Reason != "changed my mind" {
		t.Errorf("unexpected cancel reason: %q", returns.lastCancel.Reason)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "cancelled" {
		t.Errorf("unexpected status: %s", resp.Order.Status)
	}
}

func TestCancelOrderWithoutBody(t *testing.T) {
	returns := &stubReturnService{order: sampleOrder()}
	router := newOrderRouter(&stubOrderService{}, returns)

	req := httptest.NewRequest(http.MethodPost, "/ord_123/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if returns.lastCancel.Reason != "" {
		t.Errorf("expected empty reason, got %q", returns.lastCancel.Reason)
	}
}

func TestCancelOrderInvalidState(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubReturnService{err: services.ErrReturnInvalidState})

	req := httptest.NewRequest(http.MethodPost, "/ord_123/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestRequestReturn(t *testing.T) {
	returns := &stubReturnService{ret: sampleReturn()}
	router := newOrderRouter(&stubOrderService{}, returns)

	body := `{"items": [{"order_line_id": "oln_1", "quantity": 1, "reason": "too small"}], "reason": "too small"}`
	req := httptest.NewRequest(http.MethodPost, "/ord_123/returns", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if returns.lastRequest.OrderID != "ord_123" {
		t.Errorf("unexpected order id: %s", returns.lastRequest.OrderID)
	}
	if len(returns.lastRequest.Items) != 1 || returns.lastRequest.Items[0].OrderLineID != "oln_1" {
		t.Errorf("items not forwarded: %+v", returns.lastRequest.Items)
	}

	var resp returnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Return.ID != "ret_1" {
		t.Errorf("unexpected return id: %s", resp.Return.ID)
	}
	if resp.Return.Status != "requested" {
		t.Errorf("unexpected status: %s", resp.Return.Status)
	}
}

func TestRequestReturnErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"window closed", services.ErrReturnWindowClosed, http.StatusUnprocessableEntity, "return_window_closed"},
		{"already open", services.ErrReturnAlreadyOpen, http.StatusConflict, "return_already_open"},
		{"quantity exceeded", services.ErrReturnQuantityExceeded, http.StatusUnprocessableEntity, "return_quantity_exceeded"},
		{"order missing", services.ErrReturnOrderNotFound, http.StatusNotFound, "order_not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(&stubOrderService{}, &stubReturnService{err: tc.err})

			body := `{"items": [{"order_line_id": "oln_1", "quantity": 1}]}`
			req := httptest.NewRequest(http.MethodPost, "/ord_123/returns", strings.NewReader(body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}

			var bodyMap map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &bodyMap); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if bodyMap["error"] != tc.wantCode {
				t.Errorf("expected error code %q, got %v", tc.wantCode, bodyMap["error"])
			}
		})
	}
}

func TestListOrderReturns(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubReturnService{returns: []domain.Return{sampleReturn()}})

	req := httptest.NewRequest(http.MethodGet, "/ord_123/returns", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp returnListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "ret_1" {
		t.Errorf("unexpected items: %+v", resp.Items)
	}
}
