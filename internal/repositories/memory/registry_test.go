package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

func TestReserveConcurrentNeverOversells(t *testing.T) {
	reg := NewRegistry()
	reg.SeedVariant(domain.Variant{ID: "var_1", SKU: "LL-TEE-M", StockCount: 5})

	var wg sync.WaitGroup
	succeeded := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Variants().Reserve(context.Background(), "var_1", 1); err == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	wins := 0
	for range succeeded {
		wins++
	}
	assert.Equal(t, 5, wins)

	v, err := reg.Variants().Get(context.Background(), "var_1")
	require.NoError(t, err)
	assert.Equal(t, 0, v.StockCount)
}

func TestReserveInsufficientStock(t *testing.T) {
	reg := NewRegistry()
	reg.SeedVariant(domain.Variant{ID: "var_1", StockCount: 1})

	err := reg.Variants().Reserve(context.Background(), "var_1", 2)
	require.Error(t, err)
	repoErr, ok := repositories.AsRepositoryError(err)
	require.True(t, ok)
	assert.True(t, repoErr.IsInsufficientStock())

	v, err := reg.Variants().Get(context.Background(), "var_1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.StockCount, "failed reserve must not touch stock")
}

func TestTransitionStatusCompareAndSet(t *testing.T) {
	reg := NewRegistry()
	now := time.Now().UTC()
	require.NoError(t, reg.Orders().Insert(context.Background(), domain.Order{
		ID:        "ord_1",
		Number:    "LL-2026-000001",
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	applied, err := reg.Orders().TransitionStatus(context.Background(), repositories.StatusTransition{
		OrderID: "ord_1",
		From:    []domain.OrderStatus{domain.OrderStatusPending},
		To:      domain.OrderStatusPaid,
		Now:     now,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// Replay of the same transition is a no-op.
	applied, err = reg.Orders().TransitionStatus(context.Background(), repositories.StatusTransition{
		OrderID: "ord_1",
		From:    []domain.OrderStatus{domain.OrderStatusPending},
		To:      domain.OrderStatusPaid,
		Now:     now,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	order, err := reg.Orders().FindByID(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)
}

func TestRecordUsageDuplicateTuple(t *testing.T) {
	reg := NewRegistry()
	reg.SeedCoupon(domain.Coupon{ID: "cpn_1", Code: "WELCOME10"})

	usage := domain.CouponUsage{CouponID: "cpn_1", CustomerEmail: "a@example.com", OrderID: "ord_1", UsedAt: time.Now().UTC()}

	recorded, err := reg.Coupons().RecordUsage(context.Background(), usage)
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = reg.Coupons().RecordUsage(context.Background(), usage)
	require.NoError(t, err)
	assert.False(t, recorded)

	c, err := reg.Coupons().FindByCode(context.Background(), "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	used, err := reg.Coupons().CustomerHasUsed(context.Background(), "cpn_1", "a@example.com")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestCounterNextIsMonotonic(t *testing.T) {
	reg := NewRegistry()
	for want := int64(1); want <= 3; want++ {
		got, err := reg.Counters().Next(context.Background(), "orders:2026")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
