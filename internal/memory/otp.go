package memory

import (
	"context"
	"strings"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/otp"
)

type otpStore struct{ l *Ledger }

func (s otpStore) WithTx(ctx context.Context, fn func(otp.Tx) error) error {
	return s.l.run(ctx, func(st *state) error {
		return fn(&otpTx{l: s.l, st: st})
	})
}

type otpTx struct {
	l  *Ledger
	st *state
}

var _ otp.Tx = (*otpTx)(nil)

// Lock is a no-op: the ledger mutex already serializes transactions.
func (t *otpTx) Lock(context.Context, string, otp.Flow) error { return nil }

func (t *otpTx) DeletePending(_ context.Context, email string, flow otp.Flow) error {
	for id, r := range t.st.otps {
		if strings.EqualFold(r.Email, email) && r.Flow == flow && !r.Verified {
			delete(t.st.otps, id)
		}
	}
	return nil
}

func (t *otpTx) Insert(_ context.Context, r otp.Record) error {
	if err := t.l.fault("InsertOTP"); err != nil {
		return err
	}
	for _, x := range t.st.otps {
		if strings.EqualFold(x.Email, r.Email) && x.Flow == r.Flow && !x.Verified && !r.Verified {
			return errDuplicate("pending verification")
		}
	}
	t.st.otps[r.ID] = r
	return nil
}

func (t *otpTx) find(match func(otp.Record) bool) (*otp.Record, error) {
	var best *otp.Record
	for _, r := range t.st.otps {
		if !match(r) {
			continue
		}
		if best == nil || r.IssuedAt.After(best.IssuedAt) {
			r := r
			best = &r
		}
	}
	if best == nil {
		return nil, apperr.NotFound("verification")
	}
	return best, nil
}

func (t *otpTx) FindPending(_ context.Context, email, code string, flow otp.Flow) (*otp.Record, error) {
	return t.find(func(r otp.Record) bool {
		return strings.EqualFold(r.Email, email) && r.Code == code && r.Flow == flow && !r.Verified
	})
}

func (t *otpTx) LatestPending(_ context.Context, email string) (*otp.Record, error) {
	return t.find(func(r otp.Record) bool {
		return strings.EqualFold(r.Email, email) && !r.Verified
	})
}

func (t *otpTx) FindVerified(_ context.Context, email, id string, flow otp.Flow) (*otp.Record, error) {
	return t.find(func(r otp.Record) bool {
		return r.ID == id && strings.EqualFold(r.Email, email) && r.Flow == flow && r.Verified
	})
}

func (t *otpTx) Reissue(_ context.Context, id, code string, issuedAt, expiresAt time.Time) error {
	r, ok := t.st.otps[id]
	if !ok {
		return apperr.NotFound("verification")
	}
	r.Code, r.IssuedAt, r.ExpiresAt = code, issuedAt, expiresAt
	t.st.otps[id] = r
	return nil
}

func (t *otpTx) MarkVerified(_ context.Context, id string) error {
	r, ok := t.st.otps[id]
	if !ok {
		return apperr.NotFound("verification")
	}
	r.Verified = true
	t.st.otps[id] = r
	return nil
}

func (t *otpTx) Delete(_ context.Context, id string) error {
	delete(t.st.otps, id)
	return nil
}

func (t *otpTx) UserByEmail(_ context.Context, email string) (*auth.User, error) {
	u, ok := userByEmail(t.st, email)
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return u, nil
}

func (t *otpTx) CreateUser(_ context.Context, u auth.User) error {
	if err := t.l.fault("CreateUser"); err != nil {
		return err
	}
	if _, ok := userByEmail(t.st, u.Email); ok {
		return apperr.Invalid("email is already registered")
	}
	t.st.users[u.ID] = u
	return nil
}

func (t *otpTx) SetPassword(_ context.Context, userID, hash string, _ time.Time) error {
	u, ok := t.st.users[userID]
	if !ok {
		return apperr.NotFound("user")
	}
	u.PasswordHash = hash
	t.st.users[userID] = u
	return nil
}
