package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/inventory"
	"github.com/ariefcatur/farmgoods/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres order ledger. Numeric columns cross the driver as text
// and are parsed with shopspring/decimal.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) WithTx(ctx context.Context, fn func(Tx) error) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

const orderColumns = `id, order_number, customer_id, COALESCE(idempotency_key, ''), delivery_address,
	payment_method, subtotal::text, net_amount::text, payment_status, status, created_at, updated_at`

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, quantity, list_price::text, unit_price::text, subtotal::text
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                   Line
			list, charged, subt string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &list, &charged, &subt); err != nil {
			return nil, err
		}
		if l.ListPrice, err = decimal.NewFromString(list); err != nil {
			return nil, err
		}
		if l.ChargedPrice, err = decimal.NewFromString(charged); err != nil {
			return nil, err
		}
		if l.Subtotal, err = decimal.NewFromString(subt); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *Repo) FindByIdempotencyKey(ctx context.Context, customerID, key string) (*Order, error) {
	var id string
	err := r.DB.QueryRow(ctx,
		`SELECT id FROM orders WHERE customer_id=$1 AND idempotency_key=$2`, customerID, key).Scan(&id)
	if postgres.NoRows(err) {
		return nil, apperr.NotFound("order")
	}
	if err != nil {
		return nil, err
	}
	return r.GetOrder(ctx, id)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o        Order
		sub, net string
	)
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.IdempotencyKey, &o.DeliveryAddress,
		&o.PaymentMethod, &sub, &net, &o.PaymentStatus, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if postgres.NoRows(err) {
		return nil, apperr.NotFound("order")
	}
	if err != nil {
		return nil, err
	}
	if o.Subtotal, err = decimal.NewFromString(sub); err != nil {
		return nil, err
	}
	if o.NetAmount, err = decimal.NewFromString(net); err != nil {
		return nil, err
	}
	return &o, nil
}

type pgTx struct{ tx pgx.Tx }

// LockProduct holds the product row until the transaction ends.
func (t *pgTx) LockProduct(ctx context.Context, id string) (inventory.Product, error) {
	var (
		p     inventory.Product
		price string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, unit_price::text, stock_quantity, is_available
		FROM products WHERE id=$1 FOR UPDATE`, id).
		Scan(&p.ID, &p.Name, &price, &p.Stock, &p.Available)
	if postgres.NoRows(err) {
		return p, apperr.NotFound("product " + id)
	}
	if err != nil {
		return p, err
	}
	p.UnitPrice, err = decimal.NewFromString(price)
	return p, err
}

// DecrementStock never drives stock below zero: the guard in the WHERE clause
// and the rows-affected check back up the CHECK constraint.
func (t *pgTx) DecrementStock(ctx context.Context, id string, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id=$1 AND stock_quantity >= $2`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		var stock int
		if err := t.tx.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id=$1`, id).Scan(&stock); err != nil {
			return err
		}
		return &apperr.StockError{ProductID: id, Requested: qty, Available: stock}
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, customer_id, idempotency_key, delivery_address, payment_method,
			subtotal, net_amount, payment_status, status, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7::numeric, $8::numeric, $9, $10, $11, $12)`,
		o.ID, o.Number, o.CustomerID, o.IdempotencyKey, o.DeliveryAddress, string(o.PaymentMethod),
		o.Subtotal.String(), o.NetAmount.String(), string(o.PaymentStatus), string(o.Status), o.CreatedAt, o.UpdatedAt)
	if c, ok := postgres.UniqueViolation(err); ok && c == "orders_idempotency_key" {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, l := range o.Lines {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, quantity, list_price, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric)`,
			l.ID, o.ID, l.ProductID, l.Quantity, l.ListPrice.String(), l.ChargedPrice.String(), l.Subtotal.String(),
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateOrder(ctx context.Context, id string, status Status, address string, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET status=$2, delivery_address=$3, updated_at=$4 WHERE id=$1`,
		id, string(status), address, at)
	return err
}

func (t *pgTx) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, transaction_id, amount, status, method, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		p.ID, p.OrderID, p.TransactionID, p.Amount.String(), string(p.Status), string(p.Method), p.CreatedAt)
	if c, ok := postgres.UniqueViolation(err); ok && c == "payments_order_id_key" {
		return apperr.ErrAlreadyPaid
	}
	return err
}

func (t *pgTx) MarkPaid(ctx context.Context, orderID string, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET payment_status='paid', updated_at=$2 WHERE id=$1`, orderID, at)
	return err
}

func (t *pgTx) ClearCart(ctx context.Context, customerID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM carts WHERE customer_id=$1`, customerID)
	return err
}
