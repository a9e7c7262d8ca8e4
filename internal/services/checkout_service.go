package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/payments"
	"github.com/linenloft/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderLineIDPrefix = "oln_"

	defaultSessionTTL   = 30 * time.Minute
	defaultCurrency     = "EUR"
	maxCheckoutLines    = 50
	maxQuantityPerLine  = 20
	orderNumberCounterF = "orders:%d"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutInsufficientStock indicates stock could not be reserved for the requested items.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutVariantNotFound indicates a requested variant does not exist.
	ErrCheckoutVariantNotFound = errors.New("checkout: variant not found")
	// ErrCheckoutPaymentFailed indicates the payment session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// CheckoutConfig carries the pricing knobs applied when placing an order.
type CheckoutConfig struct {
	Currency              string
	ShippingCost          int64
	FreeShippingThreshold int64
	SessionTTL            time.Duration
	SuccessURL            string
	CancelURL             string
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders    repositories.OrderRepository
	Variants  repositories.VariantRepository
	Counters  repositories.CounterRepository
	Coupons   CouponService
	Payments  payments.Provider
	Config    CheckoutConfig
	Clock     func() time.Time
	IDGen     func() string
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Notifier  Notifier
}

type checkoutService struct {
	orders   repositories.OrderRepository
	variants repositories.VariantRepository
	counters repositories.CounterRepository
	coupons  CouponService
	payments payments.Provider
	cfg      CheckoutConfig
	now      func() time.Time
	idGen    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
	notifier Notifier
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("checkout service: variant repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	cfg := deps.Config
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = defaultCurrency
	}

	return &checkoutService{
		orders:   deps.Orders,
		variants: deps.Variants,
		counters: deps.Counters,
		coupons:  deps.Coupons,
		payments: deps.Payments,
		cfg:      cfg,
		now: func() time.Time {
			return clock().UTC()
		},
		idGen:    idGen,
		logger:   logger,
		notifier: notifier,
	}, nil
}

// Checkout places an order: reserve stock line by line, validate the coupon,
// persist the pending order with frozen prices, then open the hosted payment
// session. Every failure path puts reserved stock back before returning.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cmd, err := normalizeCheckoutCommand(cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	lines, err := s.reserveAll(ctx, cmd.Items)
	if err != nil {
		return CheckoutResult{}, err
	}

	subtotal := int64(0)
	for _, line := range lines {
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	var coupon *domain.CouponApplication
	if cmd.CouponCode != "" {
		app, err := s.coupons.Validate(ctx, cmd.CouponCode, cmd.Customer.Email, subtotal)
		if err != nil {
			s.restoreAll(ctx, lines)
			return CheckoutResult{}, err
		}
		coupon = &app
	}

	order, err := s.buildOrder(ctx, cmd, lines, subtotal, coupon)
	if err != nil {
		s.restoreAll(ctx, lines)
		return CheckoutResult{}, err
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.restoreAll(ctx, lines)
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	session, err := s.openPaymentSession(ctx, order, cmd)
	if err != nil {
		s.failPlacedOrder(ctx, order, lines)
		return CheckoutResult{}, ErrCheckoutPaymentFailed
	}

	if err := s.orders.SetPaymentSession(ctx, order.ID, session.ID, session.IntentID, s.now()); err != nil {
		s.failPlacedOrder(ctx, order, lines)
		s.logger(ctx, "checkout.session_ref_persist_failed", map[string]any{
			"orderId":   order.ID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	s.logger(ctx, "checkout.order_placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.Number,
		"total":       order.Total,
		"sessionId":   session.ID,
	})

	return CheckoutResult{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		RedirectURL: session.RedirectURL,
		Total:       order.Total,
	}, nil
}

func normalizeCheckoutCommand(cmd CheckoutCommand) (CheckoutCommand, error) {
	cmd.Customer.Name = strings.TrimSpace(cmd.Customer.Name)
	cmd.Customer.Email = strings.ToLower(strings.TrimSpace(cmd.Customer.Email))
	cmd.Customer.Phone = strings.TrimSpace(cmd.Customer.Phone)
	cmd.ShippingAddress.Line1 = strings.TrimSpace(cmd.ShippingAddress.Line1)
	cmd.ShippingAddress.Line2 = strings.TrimSpace(cmd.ShippingAddress.Line2)
	cmd.ShippingAddress.City = strings.TrimSpace(cmd.ShippingAddress.City)
	cmd.ShippingAddress.PostalCode = strings.TrimSpace(cmd.ShippingAddress.PostalCode)
	cmd.ShippingAddress.Country = strings.ToUpper(strings.TrimSpace(cmd.ShippingAddress.Country))
	cmd.CouponCode = strings.ToUpper(strings.TrimSpace(cmd.CouponCode))
	cmd.SuccessURL = strings.TrimSpace(cmd.SuccessURL)
	cmd.CancelURL = strings.TrimSpace(cmd.CancelURL)

	if cmd.Customer.Name == "" || cmd.Customer.Email == "" || !strings.Contains(cmd.Customer.Email, "@") {
		return cmd, ErrCheckoutInvalidInput
	}
	if cmd.ShippingAddress.Line1 == "" || cmd.ShippingAddress.City == "" ||
		cmd.ShippingAddress.PostalCode == "" || cmd.ShippingAddress.Country == "" {
		return cmd, ErrCheckoutInvalidInput
	}
	if len(cmd.Items) == 0 || len(cmd.Items) > maxCheckoutLines {
		return cmd, ErrCheckoutInvalidInput
	}

	seen := make(map[string]struct{}, len(cmd.Items))
	for i := range cmd.Items {
		cmd.Items[i].VariantID = strings.TrimSpace(cmd.Items[i].VariantID)
		item := cmd.Items[i]
		if item.VariantID == "" || item.Quantity <= 0 || item.Quantity > maxQuantityPerLine {
			return cmd, ErrCheckoutInvalidInput
		}
		if _, dup := seen[item.VariantID]; dup {
			return cmd, ErrCheckoutInvalidInput
		}
		seen[item.VariantID] = struct{}{}
	}
	return cmd, nil
}

// reserveAll decrements stock for each requested line in order. On the
// first failure every prior reservation is rolled back and the returned
// error names the failing SKU.
func (s *checkoutService) reserveAll(ctx context.Context, items []CheckoutItem) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		variant, err := s.variants.Get(ctx, item.VariantID)
		if err != nil {
			s.restoreAll(ctx, lines)
			if repoErr, ok := repositories.AsRepositoryError(err); ok && repoErr.IsNotFound() {
				return nil, fmt.Errorf("%w: %s", ErrCheckoutVariantNotFound, item.VariantID)
			}
			return nil, ErrCheckoutUnavailable
		}

		if err := s.variants.Reserve(ctx, item.VariantID, item.Quantity); err != nil {
			s.restoreAll(ctx, lines)
			if repoErr, ok := repositories.AsRepositoryError(err); ok {
				switch {
				case repoErr.IsInsufficientStock():
					return nil, fmt.Errorf("%w: %s", ErrCheckoutInsufficientStock, variant.SKU)
				case repoErr.IsNotFound():
					return nil, fmt.Errorf("%w: %s", ErrCheckoutVariantNotFound, item.VariantID)
				}
			}
			return nil, ErrCheckoutUnavailable
		}

		lines = append(lines, domain.OrderLine{
			ID:          orderLineIDPrefix + s.idGen(),
			VariantID:   variant.ID,
			ProductID:   variant.ProductID,
			ProductName: variant.ProductName,
			SKU:         variant.SKU,
			Size:        variant.Size,
			Quantity:    item.Quantity,
			UnitPrice:   variant.UnitPrice,
		})
	}
	return lines, nil
}

func (s *checkoutService) restoreAll(ctx context.Context, lines []domain.OrderLine) {
	for _, line := range lines {
		if err := s.variants.Restore(ctx, line.VariantID, line.Quantity); err != nil {
			s.logger(ctx, "checkout.restore_failed", map[string]any{
				"variantId": line.VariantID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *checkoutService) buildOrder(ctx context.Context, cmd CheckoutCommand, lines []domain.OrderLine, subtotal int64, coupon *domain.CouponApplication) (domain.Order, error) {
	now := s.now()
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, ErrCheckoutUnavailable
	}

	discount := int64(0)
	if coupon != nil {
		discount = coupon.DiscountAmount
	}

	// Free shipping keys off the undiscounted subtotal; a coupon never
	// costs the customer their free shipping.
	shipping := s.cfg.ShippingCost
	if s.cfg.FreeShippingThreshold > 0 && subtotal >= s.cfg.FreeShippingThreshold {
		shipping = 0
	}

	total := subtotal - discount + shipping
	if total < 0 {
		total = 0
	}

	orderID := orderIDPrefix + s.idGen()
	for i := range lines {
		lines[i].OrderID = orderID
	}

	order := domain.Order{
		ID:              orderID,
		Number:          number,
		Status:          domain.OrderStatusPending,
		Customer:        cmd.Customer,
		ShippingAddress: cmd.ShippingAddress,
		Lines:           lines,
		Subtotal:        subtotal,
		DiscountAmount:  discount,
		ShippingCost:    shipping,
		Total:           total,
		Currency:        s.cfg.Currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if coupon != nil {
		couponID := coupon.CouponID
		couponCode := coupon.Code
		order.CouponID = &couponID
		order.CouponCode = &couponCode
	}
	return order, nil
}

func (s *checkoutService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf(orderNumberCounterF, now.Year()))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LL-%d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) openPaymentSession(ctx context.Context, order domain.Order, cmd CheckoutCommand) (payments.CheckoutSession, error) {
	successURL := cmd.SuccessURL
	if successURL == "" {
		successURL = s.cfg.SuccessURL
	}
	cancelURL := cmd.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.CancelURL
	}

	items := make([]payments.SessionItem, 0, len(order.Lines))
	for _, line := range order.Lines {
		name := line.ProductName
		if line.Size != "" {
			name = fmt.Sprintf("%s (%s)", name, line.Size)
		}
		unitPrice := line.UnitPrice
		if order.DiscountAmount > 0 && order.Subtotal > 0 {
			// Spread the discount proportionally so the hosted page shows
			// the charged amount per line.
			unitPrice -= line.UnitPrice * order.DiscountAmount / order.Subtotal
			if unitPrice < 0 {
				unitPrice = 0
			}
		}
		items = append(items, payments.SessionItem{
			Name:     name,
			SKU:      line.SKU,
			Amount:   unitPrice,
			Quantity: int64(line.Quantity),
		})
	}

	metadata := map[string]string{
		"order_id":     order.ID,
		"order_number": order.Number,
	}
	if order.CouponID != nil {
		metadata["coupon_id"] = *order.CouponID
	}
	if order.CouponCode != nil {
		metadata["coupon_code"] = *order.CouponCode
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		CustomerEmail:  order.Customer.Email,
		Currency:       order.Currency,
		Items:          items,
		DiscountAmount: order.DiscountAmount,
		ShippingCost:   order.ShippingCost,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		ExpiresIn:      s.cfg.SessionTTL,
		Metadata:       metadata,
		IdempotencyKey: order.ID,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return payments.CheckoutSession{}, err
	}
	return session, nil
}

// failPlacedOrder restores stock and parks the already-inserted order in
// payment_failed after a post-persist failure.
func (s *checkoutService) failPlacedOrder(ctx context.Context, order domain.Order, lines []domain.OrderLine) {
	s.restoreAll(ctx, lines)
	applied, err := s.orders.TransitionStatus(ctx, repositories.StatusTransition{
		OrderID: order.ID,
		From:    []domain.OrderStatus{domain.OrderStatusPending},
		To:      domain.OrderStatusPaymentFailed,
		Now:     s.now(),
	})
	if err != nil || !applied {
		s.logger(ctx, "checkout.mark_failed_error", map[string]any{
			"orderId": order.ID,
			"applied": applied,
		})
	}
}
