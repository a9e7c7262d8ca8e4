package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

type couponRepository struct {
	store *Store
}

func (r *couponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		SELECT id, code, discount_type, discount_value, minimum_amount,
			usage_limit, used_count, starts_at, ends_at, active
		FROM coupons
		WHERE code = $1`

	var (
		c            domain.Coupon
		discountType string
	)
	err := r.store.q(ctx).QueryRowContext(opCtx, query, code).Scan(
		&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.MinimumAmount,
		&c.UsageLimit, &c.UsedCount, &c.StartsAt, &c.EndsAt, &c.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, repositories.NewError("coupons.find_by_code", repositories.KindNotFound,
			fmt.Sprintf("coupon %s not found", code), err)
	}
	if err != nil {
		return domain.Coupon{}, repositories.NewError("coupons.find_by_code", repositories.KindUnavailable, "query coupon", err)
	}
	c.DiscountType = domain.DiscountType(discountType)
	return c, nil
}

func (r *couponRepository) CustomerHasUsed(ctx context.Context, couponID, customerEmail string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		SELECT EXISTS (
			SELECT 1 FROM coupon_usages
			WHERE coupon_id = $1 AND customer_email = $2
		)`

	var used bool
	err := r.store.q(ctx).QueryRowContext(opCtx, query, couponID, customerEmail).Scan(&used)
	if err != nil {
		return false, repositories.NewError("coupons.customer_has_used", repositories.KindUnavailable, "query coupon usage", err)
	}
	return used, nil
}

// RecordUsage inserts a usage row and bumps the redemption counter. A
// duplicate (coupon, customer, order) tuple reports false with no error so
// a replayed payment event cannot double-count a redemption.
func (r *couponRepository) RecordUsage(ctx context.Context, usage domain.CouponUsage) (bool, error) {
	var recorded bool
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		const insert = `
			INSERT INTO coupon_usages (coupon_id, customer_email, order_id, used_at)
			VALUES ($1, $2, $3, $4)`

		_, err := r.store.q(ctx).ExecContext(opCtx, insert,
			usage.CouponID, usage.CustomerEmail, usage.OrderID, usage.UsedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errAlreadyRecorded
			}
			return repositories.NewError("coupons.record_usage", repositories.KindUnavailable, "insert coupon usage", err)
		}

		const bump = `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`
		if _, err := r.store.q(ctx).ExecContext(opCtx, bump, usage.CouponID); err != nil {
			return repositories.NewError("coupons.record_usage", repositories.KindUnavailable, "increment used count", err)
		}
		recorded = true
		return nil
	})
	if errors.Is(err, errAlreadyRecorded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return recorded, nil
}

var errAlreadyRecorded = errors.New("coupon usage already recorded")

var _ repositories.CouponRepository = (*couponRepository)(nil)
