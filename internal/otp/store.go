package otp

import (
	"context"
	"time"

	"github.com/ariefcatur/farmgoods/internal/auth"
)

// Tx is one unit of work on OTP records and the users they finally touch.
// Lookups return an apperr NotFound error when nothing matches.
type Tx interface {
	// Lock serializes issuance for one email and flow until the transaction ends.
	Lock(ctx context.Context, email string, flow Flow) error
	DeletePending(ctx context.Context, email string, flow Flow) error
	Insert(ctx context.Context, r Record) error
	// FindPending returns the locked unverified record matching email, code and flow.
	FindPending(ctx context.Context, email, code string, flow Flow) (*Record, error)
	// LatestPending returns the most recently issued unverified record of any flow.
	LatestPending(ctx context.Context, email string) (*Record, error)
	// FindVerified returns the locked verified record with the given id.
	FindVerified(ctx context.Context, email, id string, flow Flow) (*Record, error)
	Reissue(ctx context.Context, id, code string, issuedAt, expiresAt time.Time) error
	MarkVerified(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	UserByEmail(ctx context.Context, email string) (*auth.User, error)
	CreateUser(ctx context.Context, u auth.User) error
	SetPassword(ctx context.Context, userID, hash string, at time.Time) error
}

type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Mailer delivers a code. Delivery happens after commit; its failure never
// undoes the persisted record.
type Mailer interface {
	SendCode(ctx context.Context, email, name, code string) error
}
