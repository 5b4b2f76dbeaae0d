package orders_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/events"
	"github.com/ariefcatur/farmgoods/internal/orders"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettle_PaysOnceAndClearsCart(t *testing.T) {
	f := newFixture(t)
	pid := f.product("25", 10)
	f.ledger.PutCartItem(f.customer, pid, 2)
	pl, err := f.place(orders.ItemInput{ProductID: pid, Quantity: 2})
	require.NoError(t, err)

	s, err := f.svc.Settle(context.Background(), orders.SettleInput{OrderID: pl.Order.ID, CustomerID: f.customer})
	require.NoError(t, err)
	assert.Regexp(t, `^TXN-`, s.Payment.TransactionID)
	assert.True(t, s.Payment.Amount.Equal(pl.Order.NetAmount))
	assert.Equal(t, orders.MethodBankTransfer, s.Payment.Method)
	assert.Equal(t, orders.PaymentPaid, s.Order.PaymentStatus)
	assert.Zero(t, f.ledger.CartSize(f.customer))

	_, err = f.svc.Settle(context.Background(), orders.SettleInput{OrderID: pl.Order.ID, PaymentMethod: orders.MethodCard})
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaid)

	pay, ok := f.ledger.Payment(pl.Order.ID)
	require.True(t, ok)
	assert.Equal(t, s.Payment.TransactionID, pay.TransactionID)

	got, err := f.svc.GetOrder(context.Background(), pl.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Contains(t, f.pub.types(), events.EventPaymentSettled)
}

func TestSettle_FailureLeavesOrderUnpaid(t *testing.T) {
	f := newFixture(t)
	pid := f.product("25", 10)
	f.ledger.PutCartItem(f.customer, pid, 1)
	pl, err := f.place(orders.ItemInput{ProductID: pid, Quantity: 1})
	require.NoError(t, err)

	f.ledger.FailOn("ClearCart", errors.New("connection reset"))
	_, err = f.svc.Settle(context.Background(), orders.SettleInput{OrderID: pl.Order.ID})
	require.ErrorIs(t, err, apperr.ErrTransaction)

	_, ok := f.ledger.Payment(pl.Order.ID)
	assert.False(t, ok)
	got, err := f.svc.GetOrder(context.Background(), pl.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentUnpaid, got.PaymentStatus)
	assert.Equal(t, 1, f.ledger.CartSize(f.customer))

	f.ledger.FailOn("ClearCart", nil)
	_, err = f.svc.Settle(context.Background(), orders.SettleInput{OrderID: pl.Order.ID})
	require.NoError(t, err)
}

func TestSettle_Rejections(t *testing.T) {
	f := newFixture(t)
	pid := f.product("25", 10)
	pl, err := f.place(orders.ItemInput{ProductID: pid, Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.Settle(context.Background(), orders.SettleInput{OrderID: uuid.NewString()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Settle(context.Background(), orders.SettleInput{OrderID: pl.Order.ID, CustomerID: uuid.NewString()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Settle(context.Background(), orders.SettleInput{OrderID: ""})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	cancelled := orders.StatusCancelled
	_, err = f.svc.UpdateOrder(context.Background(), orders.UpdateInput{OrderID: pl.Order.ID, Patch: orders.Patch{Status: &cancelled}})
	require.NoError(t, err)
	_, err = f.svc.Settle(context.Background(), orders.SettleInput{OrderID: pl.Order.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
