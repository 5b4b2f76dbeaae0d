package inventory

import (
	"context"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
	Available bool
}

// Ledger is the slice of a store transaction the guard needs. LockProduct must
// hold a row lock until the surrounding transaction ends.
type Ledger interface {
	LockProduct(ctx context.Context, productID string) (Product, error)
	DecrementStock(ctx context.Context, productID string, qty int) error
}

func Check(p Product, qty int) error {
	if !p.Available {
		return &apperr.Error{Kind: apperr.KindProductUnavailable, Msg: "product " + p.Name + " is not available"}
	}
	if p.Stock < qty {
		return &apperr.StockError{ProductID: p.ID, Requested: qty, Available: p.Stock}
	}
	return nil
}

// Reserve locks the product row, validates the requested quantity and takes it
// out of stock. Nothing is durable until the caller commits.
func Reserve(ctx context.Context, l Ledger, productID string, qty int) (Product, error) {
	if qty <= 0 {
		return Product{}, apperr.Invalid("quantity must be greater than zero")
	}
	p, err := l.LockProduct(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if err := Check(p, qty); err != nil {
		return Product{}, err
	}
	if err := l.DecrementStock(ctx, productID, qty); err != nil {
		return Product{}, err
	}
	p.Stock -= qty
	return p, nil
}
