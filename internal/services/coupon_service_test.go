package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories/memory"
)

func newCouponFixture(t *testing.T, reg *memory.Registry, now time.Time) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	return svc
}

func baseCoupon() domain.Coupon {
	return domain.Coupon{
		ID:            "cpn_1",
		Code:          "SPRING10",
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 10,
		StartsAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:        time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Active:        true,
	}
}

func TestValidatePercentageDiscount(t *testing.T) {
	reg := memory.NewRegistry()
	reg.SeedCoupon(baseCoupon())
	svc := newCouponFixture(t, reg, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	app, err := svc.Validate(context.Background(), "spring10", "Ada@Example.com", 8999)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// 10% of 8999 rounds down.
	if app.DiscountAmount != 899 {
		t.Fatalf("discount = %d, want 899", app.DiscountAmount)
	}
	if app.CouponID != "cpn_1" {
		t.Fatalf("coupon id = %q", app.CouponID)
	}
}

func TestValidateFixedDiscountClamped(t *testing.T) {
	reg := memory.NewRegistry()
	c := baseCoupon()
	c.DiscountType = domain.DiscountTypeFixed
	c.DiscountValue = 5000
	reg.SeedCoupon(c)
	svc := newCouponFixture(t, reg, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	app, err := svc.Validate(context.Background(), "SPRING10", "ada@example.com", 3000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if app.DiscountAmount != 3000 {
		t.Fatalf("discount not clamped to amount, got %d", app.DiscountAmount)
	}
}

func TestValidateRejections(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*domain.Coupon)
		seed   func(*memory.Registry)
		want   error
	}{
		{
			name:   "unknown code",
			mutate: func(c *domain.Coupon) { c.Code = "OTHER" },
			want:   ErrCouponNotFound,
		},
		{
			name:   "inactive",
			mutate: func(c *domain.Coupon) { c.Active = false },
			want:   ErrCouponNotFound,
		},
		{
			name:   "not yet active",
			mutate: func(c *domain.Coupon) { c.StartsAt = now.Add(24 * time.Hour) },
			want:   ErrCouponNotYetActive,
		},
		{
			name:   "expired",
			mutate: func(c *domain.Coupon) { c.EndsAt = now.Add(-24 * time.Hour) },
			want:   ErrCouponExpired,
		},
		{
			name:   "minimum not met",
			mutate: func(c *domain.Coupon) { c.MinimumAmount = 100000 },
			want:   ErrCouponMinimumNotMet,
		},
		{
			name: "usage limit reached",
			mutate: func(c *domain.Coupon) {
				c.UsageLimit = 5
				c.UsedCount = 5
			},
			want: ErrCouponUsageLimitReached,
		},
		{
			name: "already used by customer",
			seed: func(reg *memory.Registry) {
				_, _ = reg.Coupons().RecordUsage(context.Background(), domain.CouponUsage{
					CouponID: "cpn_1", CustomerEmail: "ada@example.com", OrderID: "ord_0", UsedAt: now,
				})
			},
			want: ErrCouponAlreadyUsed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := memory.NewRegistry()
			c := baseCoupon()
			if tc.mutate != nil {
				tc.mutate(&c)
			}
			reg.SeedCoupon(c)
			if tc.seed != nil {
				tc.seed(reg)
			}
			svc := newCouponFixture(t, reg, now)

			_, err := svc.Validate(context.Background(), "SPRING10", "ada@example.com", 8999)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateInvalidInput(t *testing.T) {
	reg := memory.NewRegistry()
	svc := newCouponFixture(t, reg, time.Now())

	if _, err := svc.Validate(context.Background(), "", "a@b.com", 100); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("blank code: %v", err)
	}
	if _, err := svc.Validate(context.Background(), "X", "", 100); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("blank email: %v", err)
	}
	if _, err := svc.Validate(context.Background(), "X", "a@b.com", 0); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("zero amount: %v", err)
	}
}
