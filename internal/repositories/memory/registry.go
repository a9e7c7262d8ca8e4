// Package memory provides a mutex-guarded in-memory implementation of the
// repository registry. It mirrors the PostgreSQL semantics, including the
// conditional stock decrement and status compare-and-set, and backs the
// service tests.
package memory

import (
	"context"
	"sync"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

// Registry holds all state behind a single lock. Operations that the SQL
// store performs as one statement hold the lock for their whole duration,
// which preserves the same atomicity guarantees.
type Registry struct {
	mu       sync.Mutex
	variants map[string]domain.Variant
	orders   map[string]domain.Order
	coupons  map[string]domain.Coupon
	usages   map[usageKey]domain.CouponUsage
	returns  map[string]domain.Return
	counters map[string]int64
}

type usageKey struct {
	couponID string
	email    string
	orderID  string
}

func NewRegistry() *Registry {
	return &Registry{
		variants: make(map[string]domain.Variant),
		orders:   make(map[string]domain.Order),
		coupons:  make(map[string]domain.Coupon),
		usages:   make(map[usageKey]domain.CouponUsage),
		returns:  make(map[string]domain.Return),
		counters: make(map[string]int64),
	}
}

func (r *Registry) Close(ctx context.Context) error { return nil }

func (r *Registry) Variants() repositories.VariantRepository { return &variantRepo{reg: r} }
func (r *Registry) Orders() repositories.OrderRepository     { return &orderRepo{reg: r} }
func (r *Registry) Coupons() repositories.CouponRepository   { return &couponRepo{reg: r} }
func (r *Registry) Returns() repositories.ReturnRepository   { return &returnRepo{reg: r} }
func (r *Registry) Counters() repositories.CounterRepository { return &counterRepo{reg: r} }

// RunInTx has no transactional backing in memory; fn runs directly.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// SeedVariant installs a variant, replacing any existing entry. Test setup
// helper.
func (r *Registry) SeedVariant(v domain.Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.ID] = v
}

// SeedCoupon installs a coupon keyed by its code.
func (r *Registry) SeedCoupon(c domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[c.Code] = c
}

var _ repositories.Registry = (*Registry)(nil)
