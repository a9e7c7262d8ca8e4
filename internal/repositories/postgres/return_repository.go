package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

type returnRepository struct {
	store *Store
}

const returnColumns = `id, order_id, status, reason, reject_reason, refund_amount,
	requested_at, approved_at, rejected_at, received_at, completed_at, updated_at`

func (r *returnRepository) Insert(ctx context.Context, ret domain.Return) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		const insertReturn = `
			INSERT INTO returns (` + returnColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

		_, err := r.store.q(ctx).ExecContext(opCtx, insertReturn,
			ret.ID, ret.OrderID, string(ret.Status), ret.Reason, ret.RejectReason, ret.RefundAmount,
			ret.RequestedAt, ret.ApprovedAt, ret.RejectedAt, ret.ReceivedAt, ret.CompletedAt, ret.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repositories.NewError("returns.insert", repositories.KindConflict,
					fmt.Sprintf("return %s already exists", ret.ID), err)
			}
			return repositories.NewError("returns.insert", repositories.KindUnavailable, "insert return", err)
		}

		const insertItem = `
			INSERT INTO return_items (return_id, order_line_id, variant_id, qty, reason, unit_price, restock)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`

		for _, item := range ret.Items {
			_, err := r.store.q(ctx).ExecContext(opCtx, insertItem,
				ret.ID, item.OrderLineID, item.VariantID, item.Quantity, item.Reason, item.UnitPrice, item.Restock,
			)
			if err != nil {
				return repositories.NewError("returns.insert", repositories.KindUnavailable, "insert return item", err)
			}
		}
		return nil
	})
}

func (r *returnRepository) FindByID(ctx context.Context, returnID string) (domain.Return, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `SELECT ` + returnColumns + ` FROM returns WHERE id = $1`

	row := r.store.q(ctx).QueryRowContext(opCtx, query, returnID)
	ret, err := scanReturn(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Return{}, repositories.NewError("returns.find_by_id", repositories.KindNotFound,
			fmt.Sprintf("return %s not found", returnID), err)
	}
	if err != nil {
		return domain.Return{}, repositories.NewError("returns.find_by_id", repositories.KindUnavailable, "query return", err)
	}

	items, err := r.loadItems(ctx, ret.ID)
	if err != nil {
		return domain.Return{}, err
	}
	ret.Items = items
	return ret, nil
}

func (r *returnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `SELECT ` + returnColumns + ` FROM returns WHERE order_id = $1 ORDER BY requested_at DESC`

	rows, err := r.store.q(ctx).QueryContext(opCtx, query, orderID)
	if err != nil {
		return nil, repositories.NewError("returns.list_by_order", repositories.KindUnavailable, "query returns", err)
	}
	defer rows.Close()

	var rets []domain.Return
	for rows.Next() {
		ret, err := scanReturn(rows.Scan)
		if err != nil {
			return nil, repositories.NewError("returns.list_by_order", repositories.KindUnavailable, "scan return", err)
		}
		rets = append(rets, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, repositories.NewError("returns.list_by_order", repositories.KindUnavailable, "iterate returns", err)
	}

	for i := range rets {
		items, err := r.loadItems(ctx, rets[i].ID)
		if err != nil {
			return nil, err
		}
		rets[i].Items = items
	}
	return rets, nil
}

func (r *returnRepository) loadItems(ctx context.Context, returnID string) ([]domain.ReturnItem, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		SELECT order_line_id, variant_id, qty, reason, unit_price, restock
		FROM return_items
		WHERE return_id = $1
		ORDER BY order_line_id`

	rows, err := r.store.q(ctx).QueryContext(opCtx, query, returnID)
	if err != nil {
		return nil, repositories.NewError("returns.load_items", repositories.KindUnavailable, "query return items", err)
	}
	defer rows.Close()

	var items []domain.ReturnItem
	for rows.Next() {
		var item domain.ReturnItem
		if err := rows.Scan(&item.OrderLineID, &item.VariantID, &item.Quantity,
			&item.Reason, &item.UnitPrice, &item.Restock); err != nil {
			return nil, repositories.NewError("returns.load_items", repositories.KindUnavailable, "scan return item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, repositories.NewError("returns.load_items", repositories.KindUnavailable, "iterate return items", err)
	}
	return items, nil
}

// TransitionStatus is the CAS counterpart of the order transition: the
// update only lands when the return still sits in an expected source state.
func (r *returnRepository) TransitionStatus(ctx context.Context, tr repositories.ReturnStatusTransition) (bool, error) {
	if tr.ReturnID == "" || len(tr.From) == 0 || tr.To == "" {
		return false, repositories.NewError("returns.transition", repositories.KindConflict,
			"return id, source states and target state are required", nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{string(tr.To), tr.Now}

	if col := returnTimestampColumn(tr.To); col != "" {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, tr.Now)
	}
	if tr.RefundAmount != nil {
		sets = append(sets, fmt.Sprintf("refund_amount = $%d", len(args)+1))
		args = append(args, *tr.RefundAmount)
	}
	if tr.RejectReason != nil {
		sets = append(sets, fmt.Sprintf("reject_reason = $%d", len(args)+1))
		args = append(args, *tr.RejectReason)
	}

	args = append(args, tr.ReturnID)
	idIdx := len(args)

	placeholders := make([]string, 0, len(tr.From))
	for _, from := range tr.From {
		args = append(args, string(from))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(
		"UPDATE returns SET %s WHERE id = $%d AND status IN (%s)",
		strings.Join(sets, ", "), idIdx, strings.Join(placeholders, ", "),
	)

	res, err := r.store.q(ctx).ExecContext(opCtx, query, args...)
	if err != nil {
		return false, repositories.NewError("returns.transition", repositories.KindUnavailable, "update return status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, repositories.NewError("returns.transition", repositories.KindUnavailable, "rows affected", err)
	}
	return affected == 1, nil
}

func returnTimestampColumn(to domain.ReturnStatus) string {
	switch to {
	case domain.ReturnStatusApproved:
		return "approved_at"
	case domain.ReturnStatusRejected:
		return "rejected_at"
	case domain.ReturnStatusReceived:
		return "received_at"
	case domain.ReturnStatusCompleted:
		return "completed_at"
	default:
		return ""
	}
}

func scanReturn(scan func(dest ...any) error) (domain.Return, error) {
	var (
		ret    domain.Return
		status string
	)
	err := scan(
		&ret.ID, &ret.OrderID, &status, &ret.Reason, &ret.RejectReason, &ret.RefundAmount,
		&ret.RequestedAt, &ret.ApprovedAt, &ret.RejectedAt, &ret.ReceivedAt, &ret.CompletedAt, &ret.UpdatedAt,
	)
	if err != nil {
		return domain.Return{}, err
	}
	ret.Status = domain.ReturnStatus(status)
	return ret, nil
}

var _ repositories.ReturnRepository = (*returnRepository)(nil)
