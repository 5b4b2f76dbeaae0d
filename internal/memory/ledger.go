// Package memory is an in-process ledger for tests and STORE_DRIVER=memory.
// Transactions are serialized by one mutex and run against a cloned snapshot
// that replaces the live state only on commit.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/inventory"
	"github.com/ariefcatur/farmgoods/internal/orders"
	"github.com/ariefcatur/farmgoods/internal/otp"
)

type state struct {
	users    map[string]auth.User
	products map[string]inventory.Product
	carts    map[string]map[string]int
	orders   map[string]orders.Order
	payments map[string]orders.Payment // by order id
	otps     map[string]otp.Record
}

func newState() *state {
	return &state{
		users:    map[string]auth.User{},
		products: map[string]inventory.Product{},
		carts:    map[string]map[string]int{},
		orders:   map[string]orders.Order{},
		payments: map[string]orders.Payment{},
		otps:     map[string]otp.Record{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:    maps.Clone(s.users),
		products: maps.Clone(s.products),
		carts:    make(map[string]map[string]int, len(s.carts)),
		orders:   maps.Clone(s.orders),
		payments: maps.Clone(s.payments),
		otps:     maps.Clone(s.otps),
	}
	for k, v := range s.carts {
		c.carts[k] = maps.Clone(v)
	}
	return c
}

type Ledger struct {
	mu     sync.Mutex
	st     *state
	faults map[string]error
}

func New() *Ledger {
	return &Ledger{st: newState(), faults: map[string]error{}}
}

// FailOn makes the named Tx operation (e.g. "ClearCart") return err until
// cleared with a nil err.
func (l *Ledger) FailOn(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.faults, op)
		return
	}
	l.faults[op] = err
}

func (l *Ledger) fault(op string) error { return l.faults[op] }

// run executes fn on a snapshot and swaps it in when fn succeeds.
func (l *Ledger) run(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := l.st.clone()
	if err := fn(snap); err != nil {
		return err
	}
	l.st = snap
	return nil
}

func (l *Ledger) locked(fn func(*state)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.st)
}

// ---- seeding and inspection ----

func (l *Ledger) PutProduct(p inventory.Product) {
	l.locked(func(s *state) { s.products[p.ID] = p })
}

func (l *Ledger) Product(id string) (inventory.Product, bool) {
	var (
		p  inventory.Product
		ok bool
	)
	l.locked(func(s *state) { p, ok = s.products[id] })
	return p, ok
}

func (l *Ledger) PutUser(u auth.User) {
	u.Email = auth.NormalizeEmail(u.Email)
	l.locked(func(s *state) { s.users[u.ID] = u })
}

func (l *Ledger) User(email string) (auth.User, bool) {
	var (
		u  auth.User
		ok bool
	)
	l.locked(func(s *state) {
		for _, x := range s.users {
			if x.Email == auth.NormalizeEmail(email) {
				u, ok = x, true
				return
			}
		}
	})
	return u, ok
}

func (l *Ledger) PutCartItem(customerID, productID string, qty int) {
	l.locked(func(s *state) {
		if s.carts[customerID] == nil {
			s.carts[customerID] = map[string]int{}
		}
		s.carts[customerID][productID] = qty
	})
}

func (l *Ledger) CartSize(customerID string) int {
	var n int
	l.locked(func(s *state) { n = len(s.carts[customerID]) })
	return n
}

func (l *Ledger) Payment(orderID string) (orders.Payment, bool) {
	var (
		p  orders.Payment
		ok bool
	)
	l.locked(func(s *state) { p, ok = s.payments[orderID] })
	return p, ok
}

func (l *Ledger) OrderCount() int {
	var n int
	l.locked(func(s *state) { n = len(s.orders) })
	return n
}

// Records returns the OTP records for email, newest first.
func (l *Ledger) Records(email string) []otp.Record {
	var out []otp.Record
	l.locked(func(s *state) {
		for _, r := range s.otps {
			if strings.EqualFold(r.Email, email) {
				out = append(out, r)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out
}

// PutRecord stores r as is; used to stage corrupted or aged records.
func (l *Ledger) PutRecord(r otp.Record) {
	l.locked(func(s *state) { s.otps[r.ID] = r })
}

// ---- store views ----

func (l *Ledger) Orders() orders.Store { return orderStore{l} }

func (l *Ledger) OTP() otp.Store { return otpStore{l} }

func (l *Ledger) Users() auth.UserFinder { return userFinder{l} }

type userFinder struct{ l *Ledger }

func (f userFinder) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	u, ok := f.l.User(email)
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return &u, nil
}

func userByEmail(s *state, email string) (*auth.User, bool) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, true
		}
	}
	return nil, false
}
