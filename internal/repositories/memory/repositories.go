package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

type variantRepo struct {
	reg *Registry
}

func (r *variantRepo) Get(ctx context.Context, variantID string) (domain.Variant, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	v, ok := r.reg.variants[variantID]
	if !ok {
		return domain.Variant{}, repositories.NewError("variants.get", repositories.KindNotFound,
			fmt.Sprintf("variant %s not found", variantID), nil)
	}
	return v, nil
}

func (r *variantRepo) Upsert(ctx context.Context, variant domain.Variant) error {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	r.reg.variants[variant.ID] = variant
	return nil
}

func (r *variantRepo) Reserve(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return repositories.NewError("variants.reserve", repositories.KindConflict,
			fmt.Sprintf("quantity must be positive, got %d", qty), nil)
	}

	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	v, ok := r.reg.variants[variantID]
	if !ok {
		return repositories.NewError("variants.reserve", repositories.KindNotFound,
			fmt.Sprintf("variant %s not found", variantID), nil)
	}
	if v.StockCount < qty {
		return repositories.NewError("variants.reserve", repositories.KindInsufficientStock,
			fmt.Sprintf("variant %s has fewer than %d units available", variantID, qty), nil)
	}
	v.StockCount -= qty
	v.UpdatedAt = time.Now().UTC()
	r.reg.variants[variantID] = v
	return nil
}

func (r *variantRepo) Restore(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return repositories.NewError("variants.restore", repositories.KindConflict,
			fmt.Sprintf("quantity must be positive, got %d", qty), nil)
	}

	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	v, ok := r.reg.variants[variantID]
	if !ok {
		return repositories.NewError("variants.restore", repositories.KindNotFound,
			fmt.Sprintf("variant %s not found", variantID), nil)
	}
	v.StockCount += qty
	v.UpdatedAt = time.Now().UTC()
	r.reg.variants[variantID] = v
	return nil
}

type orderRepo struct {
	reg *Registry
}

func (r *orderRepo) Insert(ctx context.Context, order domain.Order) error {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	if _, ok := r.reg.orders[order.ID]; ok {
		return repositories.NewError("orders.insert", repositories.KindConflict,
			fmt.Sprintf("order %s already exists", order.ID), nil)
	}
	r.reg.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	order, ok := r.reg.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewError("orders.find_by_id", repositories.KindNotFound,
			fmt.Sprintf("order %s not found", orderID), nil)
	}
	return cloneOrder(order), nil
}

func (r *orderRepo) FindBySessionRef(ctx context.Context, sessionRef string) (domain.Order, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	for _, order := range r.reg.orders {
		if order.PaymentSessionRef != nil && *order.PaymentSessionRef == sessionRef {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, repositories.NewError("orders.find_by_session_ref", repositories.KindNotFound,
		fmt.Sprintf("order not found for session %s", sessionRef), nil)
}

func (r *orderRepo) TransitionStatus(ctx context.Context, tr repositories.StatusTransition) (bool, error) {
	if tr.OrderID == "" || len(tr.From) == 0 || tr.To == "" {
		return false, repositories.NewError("orders.transition", repositories.KindConflict,
			"order id, source states and target state are required", nil)
	}

	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	order, ok := r.reg.orders[tr.OrderID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, from := range tr.From {
		if order.Status == from {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	order.Status = tr.To
	order.UpdatedAt = tr.Now
	now := tr.Now
	switch tr.To {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled, domain.OrderStatusCancelledRefundPending:
		order.CancelledAt = &now
	}
	if tr.Total != nil {
		order.Total = *tr.Total
	}
	if tr.CancelReason != nil {
		reason := *tr.CancelReason
		order.CancelReason = &reason
	}
	r.reg.orders[tr.OrderID] = order
	return true, nil
}

func (r *orderRepo) SetPaymentSession(ctx context.Context, orderID, sessionRef, intentRef string, now time.Time) error {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	order, ok := r.reg.orders[orderID]
	if !ok {
		return repositories.NewError("orders.set_payment_session", repositories.KindNotFound,
			fmt.Sprintf("order %s not found", orderID), nil)
	}
	order.PaymentSessionRef = &sessionRef
	if intentRef != "" {
		order.PaymentIntentRef = &intentRef
	}
	order.UpdatedAt = now
	r.reg.orders[orderID] = order
	return nil
}

func (r *orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	var out []domain.Order
	for _, order := range r.reg.orders {
		if len(filter.Status) > 0 {
			matched := false
			for _, status := range filter.Status {
				if order.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if filter.Email != "" && order.Customer.Email != filter.Email {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return out
}

type couponRepo struct {
	reg *Registry
}

func (r *couponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	c, ok := r.reg.coupons[code]
	if !ok {
		return domain.Coupon{}, repositories.NewError("coupons.find_by_code", repositories.KindNotFound,
			fmt.Sprintf("coupon %s not found", code), nil)
	}
	return c, nil
}

func (r *couponRepo) CustomerHasUsed(ctx context.Context, couponID, customerEmail string) (bool, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	for key := range r.reg.usages {
		if key.couponID == couponID && key.email == customerEmail {
			return true, nil
		}
	}
	return false, nil
}

func (r *couponRepo) RecordUsage(ctx context.Context, usage domain.CouponUsage) (bool, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	key := usageKey{couponID: usage.CouponID, email: usage.CustomerEmail, orderID: usage.OrderID}
	if _, ok := r.reg.usages[key]; ok {
		return false, nil
	}
	r.reg.usages[key] = usage
	for code, c := range r.reg.coupons {
		if c.ID == usage.CouponID {
			c.UsedCount++
			r.reg.coupons[code] = c
			break
		}
	}
	return true, nil
}

type returnRepo struct {
	reg *Registry
}

func (r *returnRepo) Insert(ctx context.Context, ret domain.Return) error {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	if _, ok := r.reg.returns[ret.ID]; ok {
		return repositories.NewError("returns.insert", repositories.KindConflict,
			fmt.Sprintf("return %s already exists", ret.ID), nil)
	}
	r.reg.returns[ret.ID] = cloneReturn(ret)
	return nil
}

func (r *returnRepo) FindByID(ctx context.Context, returnID string) (domain.Return, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	ret, ok := r.reg.returns[returnID]
	if !ok {
		return domain.Return{}, repositories.NewError("returns.find_by_id", repositories.KindNotFound,
			fmt.Sprintf("return %s not found", returnID), nil)
	}
	return cloneReturn(ret), nil
}

func (r *returnRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	var out []domain.Return
	for _, ret := range r.reg.returns {
		if ret.OrderID == orderID {
			out = append(out, cloneReturn(ret))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

func (r *returnRepo) TransitionStatus(ctx context.Context, tr repositories.ReturnStatusTransition) (bool, error) {
	if tr.ReturnID == "" || len(tr.From) == 0 || tr.To == "" {
		return false, repositories.NewError("returns.transition", repositories.KindConflict,
			"return id, source states and target state are required", nil)
	}

	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	ret, ok := r.reg.returns[tr.ReturnID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, from := range tr.From {
		if ret.Status == from {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	ret.Status = tr.To
	ret.UpdatedAt = tr.Now
	now := tr.Now
	switch tr.To {
	case domain.ReturnStatusApproved:
		ret.ApprovedAt = &now
	case domain.ReturnStatusRejected:
		ret.RejectedAt = &now
	case domain.ReturnStatusReceived:
		ret.ReceivedAt = &now
	case domain.ReturnStatusCompleted:
		ret.CompletedAt = &now
	}
	if tr.RefundAmount != nil {
		ret.RefundAmount = *tr.RefundAmount
	}
	if tr.RejectReason != nil {
		reason := *tr.RejectReason
		ret.RejectReason = &reason
	}
	r.reg.returns[tr.ReturnID] = ret
	return true, nil
}

func cloneReturn(ret domain.Return) domain.Return {
	out := ret
	out.Items = append([]domain.ReturnItem(nil), ret.Items...)
	return out
}

type counterRepo struct {
	reg *Registry
}

func (r *counterRepo) Next(ctx context.Context, counterID string) (int64, error) {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	r.reg.counters[counterID]++
	return r.reg.counters[counterID], nil
}
