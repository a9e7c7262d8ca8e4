package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

type variantRepository struct {
	store *Store
}

func (r *variantRepository) Get(ctx context.Context, variantID string) (domain.Variant, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		SELECT id, product_id, product_name, sku, size, unit_price, stock_count, updated_at
		FROM variants
		WHERE id = $1`

	var v domain.Variant
	err := r.store.q(ctx).QueryRowContext(opCtx, query, variantID).Scan(
		&v.ID, &v.ProductID, &v.ProductName, &v.SKU, &v.Size, &v.UnitPrice, &v.StockCount, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Variant{}, repositories.NewError("variants.get", repositories.KindNotFound,
			fmt.Sprintf("variant %s not found", variantID), err)
	}
	if err != nil {
		return domain.Variant{}, repositories.NewError("variants.get", repositories.KindUnavailable, "query variant", err)
	}
	return v, nil
}

func (r *variantRepository) Upsert(ctx context.Context, variant domain.Variant) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		INSERT INTO variants (id, product_id, product_name, sku, size, unit_price, stock_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			product_name = EXCLUDED.product_name,
			sku = EXCLUDED.sku,
			size = EXCLUDED.size,
			unit_price = EXCLUDED.unit_price,
			stock_count = EXCLUDED.stock_count,
			updated_at = EXCLUDED.updated_at`

	_, err := r.store.q(ctx).ExecContext(opCtx, query,
		variant.ID, variant.ProductID, variant.ProductName, variant.SKU, variant.Size,
		variant.UnitPrice, variant.StockCount, variant.UpdatedAt,
	)
	if err != nil {
		return repositories.NewError("variants.upsert", repositories.KindUnavailable, "upsert variant", err)
	}
	return nil
}

// Reserve atomically decrements stock, refusing to go below zero. The guard
// lives inside the UPDATE so two concurrent checkouts can never both claim
// the last unit.
func (r *variantRepository) Reserve(ctx context.Context, variantID string, quantity int) error {
	if quantity <= 0 {
		return repositories.NewError("variants.reserve", repositories.KindConflict,
			fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		UPDATE variants
		SET stock_count = stock_count - $2, updated_at = $3
		WHERE id = $1 AND stock_count >= $2`

	res, err := r.store.q(ctx).ExecContext(opCtx, query, variantID, quantity, time.Now().UTC())
	if err != nil {
		// The stock_count >= 0 check constraint backs up the WHERE guard.
		if isCheckViolation(err) {
			return repositories.NewError("variants.reserve", repositories.KindInsufficientStock,
				fmt.Sprintf("variant %s has fewer than %d units available", variantID, quantity), err)
		}
		return repositories.NewError("variants.reserve", repositories.KindUnavailable, "decrement stock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return repositories.NewError("variants.reserve", repositories.KindUnavailable, "rows affected", err)
	}
	if affected == 0 {
		// Distinguish a missing variant from an insufficient balance.
		if _, getErr := r.Get(ctx, variantID); getErr != nil {
			return getErr
		}
		return repositories.NewError("variants.reserve", repositories.KindInsufficientStock,
			fmt.Sprintf("variant %s has fewer than %d units available", variantID, quantity), nil)
	}
	return nil
}

// Restore returns previously reserved units to the sellable pool.
func (r *variantRepository) Restore(ctx context.Context, variantID string, quantity int) error {
	if quantity <= 0 {
		return repositories.NewError("variants.restore", repositories.KindConflict,
			fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		UPDATE variants
		SET stock_count = stock_count + $2, updated_at = $3
		WHERE id = $1`

	res, err := r.store.q(ctx).ExecContext(opCtx, query, variantID, quantity, time.Now().UTC())
	if err != nil {
		return repositories.NewError("variants.restore", repositories.KindUnavailable, "increment stock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return repositories.NewError("variants.restore", repositories.KindUnavailable, "rows affected", err)
	}
	if affected == 0 {
		return repositories.NewError("variants.restore", repositories.KindNotFound,
			fmt.Sprintf("variant %s not found", variantID), nil)
	}
	return nil
}

var _ repositories.VariantRepository = (*variantRepository)(nil)
