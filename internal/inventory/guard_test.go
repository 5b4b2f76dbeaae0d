package inventory

import (
	"context"
	"testing"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	products map[string]Product
	locked   []string
}

func (f *fakeLedger) LockProduct(_ context.Context, id string) (Product, error) {
	f.locked = append(f.locked, id)
	p, ok := f.products[id]
	if !ok {
		return Product{}, apperr.NotFound("product")
	}
	return p, nil
}

func (f *fakeLedger) DecrementStock(_ context.Context, id string, qty int) error {
	p := f.products[id]
	p.Stock -= qty
	f.products[id] = p
	return nil
}

func newLedger() *fakeLedger {
	return &fakeLedger{products: map[string]Product{
		"tomato": {ID: "tomato", Name: "Tomato", UnitPrice: decimal.NewFromInt(100), Stock: 5, Available: true},
		"kale":   {ID: "kale", Name: "Kale", UnitPrice: decimal.NewFromInt(40), Stock: 9, Available: false},
	}}
}

func TestReserve_Success(t *testing.T) {
	l := newLedger()
	p, err := Reserve(context.Background(), l, "tomato", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 0, l.products["tomato"].Stock)
	assert.Equal(t, []string{"tomato"}, l.locked)
}

func TestReserve_InsufficientStock(t *testing.T) {
	l := newLedger()
	_, err := Reserve(context.Background(), l, "tomato", 6)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)

	var se *apperr.StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 5, se.Available)
	assert.Equal(t, 6, se.Requested)
	assert.Equal(t, 5, l.products["tomato"].Stock)
}

func TestReserve_Unavailable(t *testing.T) {
	l := newLedger()
	_, err := Reserve(context.Background(), l, "kale", 1)
	assert.ErrorIs(t, err, apperr.ErrProductUnavailable)
	assert.Equal(t, 9, l.products["kale"].Stock)
}

func TestReserve_UnknownProduct(t *testing.T) {
	_, err := Reserve(context.Background(), newLedger(), "durian", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReserve_RejectsNonPositiveQuantity(t *testing.T) {
	l := newLedger()
	_, err := Reserve(context.Background(), l, "tomato", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, l.locked)
}
