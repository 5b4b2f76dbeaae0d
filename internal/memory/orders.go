package memory

import (
	"context"
	"slices"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/inventory"
	"github.com/ariefcatur/farmgoods/internal/orders"
)

type orderStore struct{ l *Ledger }

func (s orderStore) WithTx(ctx context.Context, fn func(orders.Tx) error) error {
	return s.l.run(ctx, func(st *state) error {
		return fn(&orderTx{l: s.l, st: st})
	})
}

func (s orderStore) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	var (
		o  orders.Order
		ok bool
	)
	s.l.locked(func(st *state) { o, ok = st.orders[id] })
	if !ok {
		return nil, apperr.NotFound("order")
	}
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}

func (s orderStore) FindByIdempotencyKey(ctx context.Context, customerID, key string) (*orders.Order, error) {
	var id string
	s.l.locked(func(st *state) {
		for _, o := range st.orders {
			if o.CustomerID == customerID && o.IdempotencyKey == key {
				id = o.ID
				return
			}
		}
	})
	if id == "" {
		return nil, apperr.NotFound("order")
	}
	return s.GetOrder(ctx, id)
}

type orderTx struct {
	l  *Ledger
	st *state
}

var _ orders.Tx = (*orderTx)(nil)

func (t *orderTx) LockProduct(_ context.Context, id string) (inventory.Product, error) {
	if err := t.l.fault("LockProduct"); err != nil {
		return inventory.Product{}, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return p, apperr.NotFound("product " + id)
	}
	return p, nil
}

func (t *orderTx) DecrementStock(_ context.Context, id string, qty int) error {
	if err := t.l.fault("DecrementStock"); err != nil {
		return err
	}
	p, ok := t.st.products[id]
	if !ok {
		return apperr.NotFound("product " + id)
	}
	if p.Stock < qty {
		return &apperr.StockError{ProductID: id, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	t.st.products[id] = p
	return nil
}

func (t *orderTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.l.fault("InsertOrder"); err != nil {
		return err
	}
	for _, x := range t.st.orders {
		if x.Number == o.Number {
			return apperr.Transaction(errDuplicate("order number"))
		}
		if o.IdempotencyKey != "" && x.CustomerID == o.CustomerID && x.IdempotencyKey == o.IdempotencyKey {
			return orders.ErrDuplicateIdempotencyKey
		}
	}
	c := *o
	c.Lines = slices.Clone(o.Lines)
	t.st.orders[o.ID] = c
	return nil
}

func (t *orderTx) LockOrder(_ context.Context, id string) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, apperr.NotFound("order")
	}
	o.Lines = nil
	return &o, nil
}

func (t *orderTx) UpdateOrder(_ context.Context, id string, status orders.Status, address string, at time.Time) error {
	if err := t.l.fault("UpdateOrder"); err != nil {
		return err
	}
	o := t.st.orders[id]
	o.Status, o.DeliveryAddress, o.UpdatedAt = status, address, at
	t.st.orders[id] = o
	return nil
}

func (t *orderTx) InsertPayment(_ context.Context, p orders.Payment) error {
	if err := t.l.fault("InsertPayment"); err != nil {
		return err
	}
	if _, ok := t.st.payments[p.OrderID]; ok {
		return apperr.ErrAlreadyPaid
	}
	t.st.payments[p.OrderID] = p
	return nil
}

func (t *orderTx) MarkPaid(_ context.Context, orderID string, at time.Time) error {
	if err := t.l.fault("MarkPaid"); err != nil {
		return err
	}
	o := t.st.orders[orderID]
	o.PaymentStatus, o.UpdatedAt = orders.PaymentPaid, at
	t.st.orders[orderID] = o
	return nil
}

func (t *orderTx) ClearCart(_ context.Context, customerID string) error {
	if err := t.l.fault("ClearCart"); err != nil {
		return err
	}
	delete(t.st.carts, customerID)
	return nil
}

type errDuplicate string

func (e errDuplicate) Error() string { return "memory: duplicate " + string(e) }
