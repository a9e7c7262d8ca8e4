package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

type orderRepository struct {
	store *Store
}

const orderColumns = `id, number, status,
	customer_name, customer_email, customer_phone,
	ship_line1, ship_line2, ship_city, ship_postal_code, ship_country,
	subtotal, discount_amount, shipping_cost, total, currency,
	coupon_id, coupon_code, payment_session_ref, payment_intent_ref, cancel_reason,
	created_at, updated_at, paid_at, shipped_at, delivered_at, cancelled_at`

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		const insertOrder = `
			INSERT INTO orders (` + orderColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

		_, err := r.store.q(ctx).ExecContext(opCtx, insertOrder,
			order.ID, order.Number, string(order.Status),
			order.Customer.Name, order.Customer.Email, order.Customer.Phone,
			order.ShippingAddress.Line1, order.ShippingAddress.Line2, order.ShippingAddress.City,
			order.ShippingAddress.PostalCode, order.ShippingAddress.Country,
			order.Subtotal, order.DiscountAmount, order.ShippingCost, order.Total, order.Currency,
			order.CouponID, order.CouponCode, order.PaymentSessionRef, order.PaymentIntentRef, order.CancelReason,
			order.CreatedAt, order.UpdatedAt, order.PaidAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repositories.NewError("orders.insert", repositories.KindConflict,
					fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return repositories.NewError("orders.insert", repositories.KindUnavailable, "insert order", err)
		}

		const insertLine = `
			INSERT INTO order_lines (id, order_id, variant_id, product_id, product_name, sku, size, qty, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		for _, line := range order.Lines {
			_, err := r.store.q(ctx).ExecContext(opCtx, insertLine,
				line.ID, order.ID, line.VariantID, line.ProductID,
				line.ProductName, line.SKU, line.Size, line.Quantity, line.UnitPrice,
			)
			if err != nil {
				return repositories.NewError("orders.insert", repositories.KindUnavailable, "insert order line", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.findOne(ctx, "orders.find_by_id", query, orderID)
}

func (r *orderRepository) FindBySessionRef(ctx context.Context, sessionRef string) (domain.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE payment_session_ref = $1`
	return r.findOne(ctx, "orders.find_by_session_ref", query, sessionRef)
}

func (r *orderRepository) findOne(ctx context.Context, op, query string, arg any) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.q(ctx).QueryRowContext(opCtx, query, arg)
	order, err := scanOrder(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, repositories.NewError(op, repositories.KindNotFound,
			fmt.Sprintf("order not found for %v", arg), err)
	}
	if err != nil {
		return domain.Order{}, repositories.NewError(op, repositories.KindUnavailable, "query order", err)
	}

	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		SELECT id, order_id, variant_id, product_id, product_name, sku, size, qty, unit_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.store.q(ctx).QueryContext(opCtx, query, orderID)
	if err != nil {
		return nil, repositories.NewError("orders.load_lines", repositories.KindUnavailable, "query order lines", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.VariantID, &line.ProductID,
			&line.ProductName, &line.SKU, &line.Size, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, repositories.NewError("orders.load_lines", repositories.KindUnavailable, "scan order line", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, repositories.NewError("orders.load_lines", repositories.KindUnavailable, "iterate order lines", err)
	}
	return lines, nil
}

// TransitionStatus performs a compare-and-set on the order status. It
// reports false when the order is no longer in one of the expected source
// states, which callers use to make replayed events no-ops.
func (r *orderRepository) TransitionStatus(ctx context.Context, tr repositories.StatusTransition) (bool, error) {
	if tr.OrderID == "" || len(tr.From) == 0 || tr.To == "" {
		return false, repositories.NewError("orders.transition", repositories.KindConflict,
			"order id, source states and target state are required", nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{string(tr.To), tr.Now}

	if col := statusTimestampColumn(tr.To); col != "" {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, tr.Now)
	}
	if tr.Total != nil {
		sets = append(sets, fmt.Sprintf("total = $%d", len(args)+1))
		args = append(args, *tr.Total)
	}
	if tr.CancelReason != nil {
		sets = append(sets, fmt.Sprintf("cancel_reason = $%d", len(args)+1))
		args = append(args, *tr.CancelReason)
	}

	args = append(args, tr.OrderID)
	idIdx := len(args)

	placeholders := make([]string, 0, len(tr.From))
	for _, from := range tr.From {
		args = append(args, string(from))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(
		"UPDATE orders SET %s WHERE id = $%d AND status IN (%s)",
		strings.Join(sets, ", "), idIdx, strings.Join(placeholders, ", "),
	)

	res, err := r.store.q(ctx).ExecContext(opCtx, query, args...)
	if err != nil {
		return false, repositories.NewError("orders.transition", repositories.KindUnavailable, "update order status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, repositories.NewError("orders.transition", repositories.KindUnavailable, "rows affected", err)
	}
	return affected == 1, nil
}

func statusTimestampColumn(to domain.OrderStatus) string {
	switch to {
	case domain.OrderStatusPaid:
		return "paid_at"
	case domain.OrderStatusShipped:
		return "shipped_at"
	case domain.OrderStatusDelivered:
		return "delivered_at"
	case domain.OrderStatusCancelled, domain.OrderStatusCancelledRefundPending:
		return "cancelled_at"
	default:
		return ""
	}
}

func (r *orderRepository) SetPaymentSession(ctx context.Context, orderID, sessionRef, intentRef string, now time.Time) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		UPDATE orders
		SET payment_session_ref = $2,
			payment_intent_ref = NULLIF($3, ''),
			updated_at = $4
		WHERE id = $1`

	res, err := r.store.q(ctx).ExecContext(opCtx, query, orderID, sessionRef, intentRef, now)
	if err != nil {
		return repositories.NewError("orders.set_payment_session", repositories.KindUnavailable, "update payment refs", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return repositories.NewError("orders.set_payment_session", repositories.KindUnavailable, "rows affected", err)
	}
	if affected == 0 {
		return repositories.NewError("orders.set_payment_session", repositories.KindNotFound,
			fmt.Sprintf("order %s not found", orderID), nil)
	}
	return nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if len(filter.Status) > 0 {
		placeholders := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Email != "" {
		args = append(args, filter.Email)
		conds = append(conds, fmt.Sprintf("customer_email = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.store.q(ctx).QueryContext(opCtx, query, args...)
	if err != nil {
		return nil, repositories.NewError("orders.list", repositories.KindUnavailable, "query orders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, repositories.NewError("orders.list", repositories.KindUnavailable, "scan order", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, repositories.NewError("orders.list", repositories.KindUnavailable, "iterate orders", err)
	}

	for i := range orders {
		lines, err := r.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func scanOrder(scan func(dest ...any) error) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := scan(
		&order.ID, &order.Number, &status,
		&order.Customer.Name, &order.Customer.Email, &order.Customer.Phone,
		&order.ShippingAddress.Line1, &order.ShippingAddress.Line2, &order.ShippingAddress.City,
		&order.ShippingAddress.PostalCode, &order.ShippingAddress.Country,
		&order.Subtotal, &order.DiscountAmount, &order.ShippingCost, &order.Total, &order.Currency,
		&order.CouponID, &order.CouponCode, &order.PaymentSessionRef, &order.PaymentIntentRef, &order.CancelReason,
		&order.CreatedAt, &order.UpdatedAt, &order.PaidAt, &order.ShippedAt, &order.DeliveredAt, &order.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

var _ repositories.OrderRepository = (*orderRepository)(nil)
