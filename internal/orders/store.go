package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/farmgoods/internal/inventory"
)

// ErrDuplicateIdempotencyKey is returned by InsertOrder when the customer
// already placed an order with the same key.
var ErrDuplicateIdempotencyKey = errors.New("orders: duplicate idempotency key")

// Tx is one unit of work on the order ledger. Every method runs inside the
// transaction opened by Store.WithTx.
type Tx interface {
	inventory.Ledger

	// InsertOrder writes the header and all of its lines.
	InsertOrder(ctx context.Context, o *Order) error
	// LockOrder reads the header only and holds a row lock on it.
	LockOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, id string, status Status, address string, at time.Time) error
	InsertPayment(ctx context.Context, p Payment) error
	MarkPaid(ctx context.Context, orderID string, at time.Time) error
	ClearCart(ctx context.Context, customerID string) error
}

type Store interface {
	// WithTx commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Tx) error) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, customerID, key string) (*Order, error)
}
