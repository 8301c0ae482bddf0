package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fournildore/boulangerie-api/internal/catalog"
)

// Repo is the Postgres-backed Store. All multi-row mutations run inside a
// transaction; stock changes are relative updates guarded by row locks.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `id, order_number, status, customer_name, customer_email, customer_phone,
	subtotal, delivery_fee, total, is_delivery, delivery_address, delivery_time,
	notes, admin_notes, created_at, updated_at, completed_at, cancelled_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Status, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&o.Subtotal, &o.DeliveryFee, &o.Total, &o.IsDelivery, &o.DeliveryAddress, &o.DeliveryTime,
		&o.Notes, &o.AdminNotes, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt, &o.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) PurchasableProducts(ctx context.Context, ids []string) ([]catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, slug, category, status, price, is_available, stock
		FROM products
		WHERE id IN (`+strings.Join(params, ",")+`) AND is_available = TRUE AND status = 'AVAILABLE'`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Category, &p.Status, &p.Price, &p.IsAvailable, &p.Stock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateOrder inserts the order, items and payment, allocates the order
// number and decrements finite stock, in one transaction. The stock guard
// re-runs under FOR UPDATE so two concurrent orders cannot both win the
// last units.
func (r *Repo) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	number, err := nextOrderNumber(ctx, tx, o.CreatedAt)
	if err != nil {
		return err
	}
	o.OrderNumber = number

	// Lock product rows in a stable order; concurrent checkouts sharing
	// products in a different line order would otherwise deadlock.
	locked := make([]*OrderItem, len(o.Items))
	for i := range o.Items {
		locked[i] = &o.Items[i]
	}
	sort.Slice(locked, func(i, j int) bool { return locked[i].ProductID < locked[j].ProductID })

	for _, it := range locked {
		var name string
		var stock *int
		err := tx.QueryRow(ctx,
			`SELECT name, stock FROM products WHERE id=$1 AND is_available = TRUE AND status = 'AVAILABLE' FOR UPDATE`,
			it.ProductID).Scan(&name, &stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return &ProductsUnavailableError{ProductIDs: []string{it.ProductID}}
		}
		if err != nil {
			return err
		}
		if stock == nil {
			continue // unlimited
		}
		if *stock < it.Quantity {
			return &InsufficientStockError{
				ProductID:   it.ProductID,
				ProductName: name,
				Requested:   it.Quantity,
				Available:   *stock,
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1`,
			it.ProductID, it.Quantity, o.CreatedAt); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, status, customer_name, customer_email, customer_phone,
			subtotal, delivery_fee, total, is_delivery, delivery_address, delivery_time,
			notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		o.ID, o.OrderNumber, o.Status, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
		o.Subtotal, o.DeliveryFee, o.Total, o.IsDelivery, o.DeliveryAddress, o.DeliveryTime,
		o.Notes, o.CreatedAt); err != nil {
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, price, quantity, subtotal, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, o.ID, it.ProductID, it.ProductName, it.Price, it.Quantity, it.Subtotal, o.CreatedAt); err != nil {
			return err
		}
	}

	p := o.Payment
	p.OrderID = o.ID
	if _, err := tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, method, status, amount, phone_number, operator, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		p.ID, o.ID, p.Method, p.Status, p.Amount, p.PhoneNumber, p.Operator, o.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// nextOrderNumber allocates the date-scoped sequence atomically. The upsert
// takes a row lock on the day's counter, which also serializes number
// assignment across concurrent checkouts.
func nextOrderNumber(ctx context.Context, tx pgx.Tx, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	var seq int
	err := tx.QueryRow(ctx, `
		INSERT INTO order_counters (day, seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = order_counters.seq + 1
		RETURNING seq`, day).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%03d", day, seq), nil
}

func (r *Repo) Order(ctx context.Context, id string) (Order, error) {
	return r.loadOrder(ctx, r.DB, `WHERE id=$1`, id)
}

func (r *Repo) OrderByNumber(ctx context.Context, number string) (Order, error) {
	return r.loadOrder(ctx, r.DB, `WHERE order_number=$1`, number)
}

func (r *Repo) OrderByPhoneAndNumber(ctx context.Context, phone, number string) (Order, error) {
	return r.loadOrder(ctx, r.DB, `WHERE customer_phone=$1 AND order_number=$2`, phone, number)
}

func (r *Repo) loadOrder(ctx context.Context, q querier, where string, args ...any) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...))
	if err != nil {
		return Order{}, err
	}
	if err := r.attachDetails(ctx, q, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) attachDetails(ctx context.Context, q querier, o *Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, price, quantity, subtotal
		FROM order_items WHERE order_id=$1 ORDER BY created_at, id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Price, &it.Quantity, &it.Subtotal); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var p Payment
	err = q.QueryRow(ctx, `
		SELECT id, order_id, method, status, amount, phone_number, operator,
			transaction_id, transaction_ref, failure_reason, created_at, updated_at, completed_at
		FROM payments WHERE order_id=$1`, o.ID).
		Scan(&p.ID, &p.OrderID, &p.Method, &p.Status, &p.Amount, &p.PhoneNumber, &p.Operator,
			&p.TransactionID, &p.TransactionRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	o.Payment = &p
	return nil
}

func (r *Repo) Orders(ctx context.Context, f ListFilter) ([]Order, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(*f.Status))
	}
	if f.CustomerPhone != "" {
		where = append(where, "customer_phone LIKE "+arg("%"+f.CustomerPhone+"%"))
	}
	if f.From != nil {
		where = append(where, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at <= "+arg(*f.To))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+cond+
		` ORDER BY created_at DESC LIMIT `+arg(limit)+` OFFSET `+arg((page-1)*limit), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if err := r.attachDetails(ctx, r.DB, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COALESCE(SUM(total) FILTER (WHERE status = 'COMPLETED'), 0)
		FROM orders`).
		Scan(&s.TotalOrders, &s.PendingOrders, &s.CompletedOrders, &s.TotalRevenue)
	return s, err
}

// Transition locks the order row, runs the state machine, and persists all
// side effects atomically. Concurrent transition attempts on the same order
// queue on the lock; the loser re-reads the new state and fails the guard.
func (r *Repo) Transition(ctx context.Context, orderID string, to Status, adminNotes *string, now time.Time) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return Order{}, err
	}
	if err := r.attachDetails(ctx, tx, &o); err != nil {
		return Order{}, err
	}

	res, err := ApplyTransition(o, to, adminNotes, now)
	if err != nil {
		return Order{}, err
	}

	if err := persistTransition(ctx, tx, res); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return res.Order, nil
}

func persistTransition(ctx context.Context, tx pgx.Tx, res TransitionResult) error {
	o := res.Order
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, admin_notes=$3, updated_at=$4, completed_at=$5, cancelled_at=$6
		WHERE id=$1`,
		o.ID, o.Status, o.AdminNotes, o.UpdatedAt, o.CompletedAt, o.CancelledAt); err != nil {
		return err
	}

	// Best-effort restock: products deleted since purchase, or with
	// unlimited stock, are skipped by the WHERE clause. Same lock order
	// as CreateOrder.
	sort.Slice(res.Restock, func(i, j int) bool { return res.Restock[i].ProductID < res.Restock[j].ProductID })
	for _, it := range res.Restock {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = $3
			WHERE id = $1 AND stock IS NOT NULL`,
			it.ProductID, it.Quantity, o.UpdatedAt); err != nil {
			return err
		}
	}

	if res.PaymentChanged && o.Payment != nil {
		p := o.Payment
		if _, err := tx.Exec(ctx, `
			UPDATE payments SET status=$2, failure_reason=$3, completed_at=$4, updated_at=$5
			WHERE id=$1`,
			p.ID, p.Status, p.FailureReason, p.CompletedAt, p.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) OrderByTransactionID(ctx context.Context, transactionID string) (Order, error) {
	var orderID string
	err := r.DB.QueryRow(ctx, `SELECT order_id FROM payments WHERE transaction_id=$1`, transactionID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrUnknownTransaction
	}
	if err != nil {
		return Order{}, err
	}
	return r.Order(ctx, orderID)
}

func (r *Repo) MarkPaymentProcessing(ctx context.Context, orderID, transactionID, transactionRef string, now time.Time) error {
	return r.updatePendingPayment(ctx, orderID, func(tx pgx.Tx, paymentID string) error {
		_, err := tx.Exec(ctx, `
			UPDATE payments SET status=$2, transaction_id=$3, transaction_ref=$4, updated_at=$5
			WHERE id=$1`,
			paymentID, PaymentProcessing, transactionID, transactionRef, now)
		return err
	})
}

func (r *Repo) MarkPaymentFailed(ctx context.Context, orderID, reason string, now time.Time) error {
	return r.updatePendingPayment(ctx, orderID, func(tx pgx.Tx, paymentID string) error {
		_, err := tx.Exec(ctx, `
			UPDATE payments SET status=$2, failure_reason=$3, updated_at=$4
			WHERE id=$1`,
			paymentID, PaymentFailed, reason, now)
		return err
	})
}

func (r *Repo) updatePendingPayment(ctx context.Context, orderID string, fn func(tx pgx.Tx, paymentID string) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var paymentID string
	var status PaymentStatus
	err = tx.QueryRow(ctx, `SELECT id, status FROM payments WHERE order_id=$1 FOR UPDATE`, orderID).
		Scan(&paymentID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != PaymentPending {
		return ErrPaymentInProgress
	}
	if err := fn(tx, paymentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyPaymentResult maps a terminal provider result onto the payment and
// cascades to the order. Idempotent: a payment already in a terminal state
// is left untouched and applied=false is returned.
func (r *Repo) ApplyPaymentResult(ctx context.Context, transactionID string, res PaymentResult, now time.Time) (Order, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderID string
	err = tx.QueryRow(ctx, `SELECT order_id FROM payments WHERE transaction_id=$1`, transactionID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, ErrUnknownTransaction
	}
	if err != nil {
		return Order{}, false, err
	}

	// Lock the order row first: it is the outer aggregate, and transition
	// writes take the same lock.
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return Order{}, false, err
	}
	if err := r.attachDetails(ctx, tx, &o); err != nil {
		return Order{}, false, err
	}
	if o.Payment == nil {
		return Order{}, false, ErrUnknownTransaction
	}
	if o.Payment.Status.Terminal() {
		return o, false, tx.Commit(ctx)
	}

	out, err := reconcile(o, res, now)
	if err != nil {
		return Order{}, false, err
	}

	if out.transition != nil {
		if err := persistTransition(ctx, tx, *out.transition); err != nil {
			return Order{}, false, err
		}
	}
	p := out.order.Payment
	if _, err := tx.Exec(ctx, `
		UPDATE payments SET status=$2, failure_reason=$3, completed_at=$4, updated_at=$5
		WHERE id=$1`,
		p.ID, p.Status, p.FailureReason, p.CompletedAt, p.UpdatedAt); err != nil {
		return Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return out.order, true, nil
}
