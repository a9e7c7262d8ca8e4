package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

var (
	// ErrCouponInvalidInput indicates the caller supplied invalid input parameters.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no coupon exists for the code, or it is inactive.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponNotYetActive indicates the coupon's validity window has not opened.
	ErrCouponNotYetActive = errors.New("coupon: not yet active")
	// ErrCouponExpired indicates the coupon's validity window has closed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponMinimumNotMet indicates the order amount is below the coupon threshold.
	ErrCouponMinimumNotMet = errors.New("coupon: minimum amount not met")
	// ErrCouponUsageLimitReached indicates the redemption budget is exhausted.
	ErrCouponUsageLimitReached = errors.New("coupon: usage limit reached")
	// ErrCouponAlreadyUsed indicates this customer already redeemed the coupon.
	ErrCouponAlreadyUsed = errors.New("coupon: already used by customer")
	// ErrCouponUnavailable indicates coupon storage is currently unreachable.
	ErrCouponUnavailable = errors.New("coupon: unavailable")
)

// CouponServiceDeps wires the dependencies required by the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
}

type couponService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
}

// NewCouponService constructs a CouponService validating required dependencies.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &couponService{
		coupons: deps.Coupons,
		now: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Validate checks the coupon against the current time, its redemption
// budget, the customer's history and the order amount, then computes the
// discount. Checks are ordered so the most specific failure is reported.
func (s *couponService) Validate(ctx context.Context, code, customerEmail string, amount int64) (domain.CouponApplication, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	customerEmail = strings.ToLower(strings.TrimSpace(customerEmail))
	if code == "" || customerEmail == "" || amount <= 0 {
		return domain.CouponApplication{}, ErrCouponInvalidInput
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if repoErr, ok := repositories.AsRepositoryError(err); ok && repoErr.IsNotFound() {
			return domain.CouponApplication{}, ErrCouponNotFound
		}
		return domain.CouponApplication{}, ErrCouponUnavailable
	}
	if !coupon.Active {
		return domain.CouponApplication{}, ErrCouponNotFound
	}

	now := s.now()
	if now.Before(coupon.StartsAt) {
		return domain.CouponApplication{}, ErrCouponNotYetActive
	}
	if now.After(coupon.EndsAt) {
		return domain.CouponApplication{}, ErrCouponExpired
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return domain.CouponApplication{}, ErrCouponUsageLimitReached
	}

	used, err := s.coupons.CustomerHasUsed(ctx, coupon.ID, customerEmail)
	if err != nil {
		return domain.CouponApplication{}, ErrCouponUnavailable
	}
	if used {
		return domain.CouponApplication{}, ErrCouponAlreadyUsed
	}

	if coupon.MinimumAmount > 0 && amount < coupon.MinimumAmount {
		return domain.CouponApplication{}, ErrCouponMinimumNotMet
	}

	discount := computeDiscount(coupon, amount)
	return domain.CouponApplication{
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		DiscountType:   coupon.DiscountType,
		DiscountValue:  coupon.DiscountValue,
		DiscountAmount: discount,
	}, nil
}

// computeDiscount rounds percentage discounts down and clamps every
// discount to the order amount so totals never go negative.
func computeDiscount(coupon domain.Coupon, amount int64) int64 {
	var discount int64
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount = amount * coupon.DiscountValue / 100
	case domain.DiscountTypeFixed:
		discount = coupon.DiscountValue
	default:
		return 0
	}
	if discount < 0 {
		return 0
	}
	if discount > amount {
		return amount
	}
	return discount
}
