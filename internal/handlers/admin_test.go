package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/services"
)

func newAdminRouter(orders services.OrderService, returns services.ReturnService) chi.Router {
	return newInventoryAdminRouter(orders, returns, &stubInventoryService{})
}

func newInventoryAdminRouter(orders services.OrderService, returns services.ReturnService, inventory services.InventoryService) chi.Router {
	r := chi.NewRouter()
	NewAdminHandlers(orders, returns, inventory).Routes(r)
	return r
}

type restockCall struct {
	variantID string
	quantity  int
}

type stubInventoryService struct {
	variant  domain.Variant
	err      error
	restocks []restockCall
}

func (s *stubInventoryService) Reserve(ctx context.Context, variantID string, qty int) error {
	return s.err
}

func (s *stubInventoryService) Restore(ctx context.Context, variantID string, qty int) error {
	if s.err != nil {
		return s.err
	}
	s.restocks = append(s.restocks, restockCall{variantID: variantID, quantity: qty})
	s.variant.StockCount += qty
	return nil
}

func (s *stubInventoryService) Availability(ctx context.Context, variantID string) (domain.Variant, error) {
	if s.err != nil {
		return domain.Variant{}, s.err
	}
	return s.variant, nil
}

func TestAdminListOrders(t *testing.T) {
	orders := &stubOrderService{orders: []domain.Order{sampleOrder()}}
	router := newAdminRouter(orders, &stubReturnService{})

	req := httptest.NewRequest(http.MethodGet, "/orders?status=paid,shipped&email=ada@example.com&limit=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(orders.lastQuery.Status) != 2 || orders.lastQuery.Status[0] != domain.OrderStatusPaid || orders.lastQuery.Status[1] != domain.OrderStatusShipped {
		t.Errorf("unexpected status filter: %v", orders.lastQuery.Status)
	}
	if orders.lastQuery.Email != "ada@example.com" {
		t.Errorf("unexpected email filter: %s", orders.lastQuery.Email)
	}
	if orders.lastQuery.Limit != 10 {
		t.Errorf("unexpected limit: %d", orders.lastQuery.Limit)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "LL-2026-000001" {
		t.Errorf("unexpected items: %+v", resp.Items)
	}
}

func TestAdminListOrdersRejectsBadLimit(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubReturnService{})

	req := httptest.NewRequest(http.MethodGet, "/orders?limit=abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminShipOrder(t *testing.T) {
	shipped := sampleOrder()
	shipped.Status = domain.OrderStatusShipped
	orders := &stubOrderService{order: shipped}
	router := newAdminRouter(orders, &stubReturnService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/ship", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(orders.shipped) != 1 || orders.shipped[0] != "ord_123" {
		t.Errorf("ship not forwarded: %v", orders.shipped)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "shipped" {
		t.Errorf("unexpected status: %s", resp.Order.Status)
	}
}

func TestAdminShipOrderInvalidState(t *testing.T) {
	router := newAdminRouter(&stubOrderService{err: services.ErrOrderInvalidState}, &stubReturnService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/ship", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminDeliverOrder(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	router := newAdminRouter(orders, &stubReturnService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/deliver", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(orders.delivered) != 1 || orders.delivered[0] != "ord_123" {
		t.Errorf("deliver not forwarded: %v", orders.delivered)
	}
}

func TestAdminRequestInvoice(t *testing.T) {
	orders := &stubOrderService{}
	router := newAdminRouter(orders, &stubReturnService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/invoice", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(orders.invoiced) != 1 || orders.invoiced[0] != "ord_123" {
		t.Errorf("invoice not forwarded: %v", orders.invoiced)
	}
}

func TestAdminGetReturn(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubReturnService{ret: sampleReturn()})

	req := httptest.NewRequest(http.MethodGet, "/returns/ret_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp returnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Return.ID != "ret_1" {
		t.Errorf("unexpected return id: %s", resp.Return.ID)
	}
}

func TestAdminApproveReturn(t *testing.T) {
	approved := sampleReturn()
	approved.Status = domain.ReturnStatusApproved
	approved.RefundAmount = 4500
	router := newAdminRouter(&stubOrderService{}, &stubReturnService{ret: approved})

	req := httptest.NewRequest(http.MethodPost, "/returns/ret_1/approve", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp returnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Return.Status != "approved" {
		t.Errorf("unexpected status: %s", resp.Return.Status)
	}
	if resp.Return.RefundAmount != 4500 {
		t.Errorf("unexpected refund amount: %d", resp.Return.RefundAmount)
	}
}

func TestAdminRejectReturn(t *testing.T) {
	returns := &stubReturnService{ret: sampleReturn()}
	router := newAdminRouter(&stubOrderService{}, returns)

	req := httptest.NewRequest(http.MethodPost, "/returns/ret_1/reject", strings.NewReader(`{"reason": "worn item"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if returns.lastReject != "worn item" {
		t.Errorf("reject reason not forwarded: %q", returns.lastReject)
	}
}

func TestAdminRejectReturnRequiresBody(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubReturnService{})

	req := httptest.NewRequest(http.MethodPost, "/returns/ret_1/reject", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminReceiveReturn(t *testing.T) {
	received := sampleReturn()
	received.Status = domain.ReturnStatusReceived
	router := newAdminRouter(&stubOrderService{}, &stubReturnService{ret: received})

	req := httptest.NewRequest(http.MethodPost, "/returns/ret_1/receive", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestAdminCompleteReturn(t *testing.T) {
	completed := sampleReturn()
	completed.Status = domain.ReturnStatusCompleted
	returns := &stubReturnService{ret: completed}
	router := newAdminRouter(&stubOrderService{}, returns)

	body := `{"items": [{"order_line_id": "oln_1", "restock": false}]}`
	req := httptest.NewRequest(http.MethodPost, "/returns/ret_1/complete", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(returns.lastItems) != 1 || returns.lastItems[0].OrderLineID != "oln_1" || returns.lastItems[0].Restock {
		t.Errorf("restock overrides not forwarded: %+v", returns.lastItems)
	}
}

func TestAdminCompleteReturnWithoutBody(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubReturnService{ret: sampleReturn()})

	req := httptest.NewRequest(http.MethodPost, "/returns/ret_1/complete", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminGetVariant(t *testing.T) {
	inventory := &stubInventoryService{variant: domain.Variant{
		ID:          "var_shirt_m",
		ProductID:   "prd_shirt",
		ProductName: "Linen Shirt",
		SKU:         "LS-M",
		Size:        "M",
		UnitPrice:   4500,
		StockCount:  7,
	}}
	router := newInventoryAdminRouter(&stubOrderService{}, &stubReturnService{}, inventory)

	req := httptest.NewRequest(http.MethodGet, "/variants/var_shirt_m", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp variantResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Variant.ID != "var_shirt_m" || resp.Variant.StockCount != 7 {
		t.Errorf("unexpected variant payload: %+v", resp.Variant)
	}
}

func TestAdminGetVariantNotFound(t *testing.T) {
	inventory := &stubInventoryService{err: services.ErrInventoryNotFound}
	router := newInventoryAdminRouter(&stubOrderService{}, &stubReturnService{}, inventory)

	req := httptest.NewRequest(http.MethodGet, "/variants/var_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAdminRestockVariant(t *testing.T) {
	inventory := &stubInventoryService{variant: domain.Variant{ID: "var_shirt_m", StockCount: 2}}
	router := newInventoryAdminRouter(&stubOrderService{}, &stubReturnService{}, inventory)

	req := httptest.NewRequest(http.MethodPost, "/variants/var_shirt_m/restock", strings.NewReader(`{"quantity": 5}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(inventory.restocks) != 1 || inventory.restocks[0].variantID != "var_shirt_m" || inventory.restocks[0].quantity != 5 {
		t.Errorf("restock not forwarded: %+v", inventory.restocks)
	}

	var resp variantResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Variant.StockCount != 7 {
		t.Errorf("expected stock 7 after restock, got %d", resp.Variant.StockCount)
	}
}

func TestAdminRestockVariantRejectsBadQuantity(t *testing.T) {
	inventory := &stubInventoryService{err: services.ErrInventoryInvalidInput}
	router := newInventoryAdminRouter(&stubOrderService{}, &stubReturnService{}, inventory)

	req := httptest.NewRequest(http.MethodPost, "/variants/var_shirt_m/restock", strings.NewReader(`{"quantity": 0}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminRestockVariantRequiresBody(t *testing.T) {
	router := newInventoryAdminRouter(&stubOrderService{}, &stubReturnService{}, &stubInventoryService{})

	req := httptest.NewRequest(http.MethodPost, "/variants/var_shirt_m/restock", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminReturnNotFound(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubReturnService{err: services.ErrReturnNotFound})

	req := httptest.NewRequest(http.MethodPost, "/returns/ret_missing/approve", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
