package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	MinSecretLen = 32
	issuerName   = "farmgoods"
)

var ErrInvalidToken = errors.New("auth: invalid token")

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Identity  Identity  `json:"user"`
}

type claims struct {
	Email    string `json:"email"`
	FullName string `json:"name"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 session tokens. Lifetime depends on the role.
type Issuer struct {
	secret []byte
	short  time.Duration
	long   time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, short, long time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", MinSecretLen)
	}
	if short <= 0 || long <= 0 {
		return nil, errors.New("auth: session lifetimes must be positive")
	}
	return &Issuer{secret: []byte(secret), short: short, long: long, now: time.Now}, nil
}

func (i *Issuer) Lifetime(r Role) time.Duration {
	if r.Staff() {
		return i.long
	}
	return i.short
}

func (i *Issuer) Issue(id Identity) (Session, error) {
	if id.UserID == "" || !id.Role.Valid() {
		return Session{}, errors.New("auth: identity needs a user id and a known role")
	}
	now := i.now()
	exp := now.Add(i.Lifetime(id.Role))
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:    id.Email,
		FullName: id.FullName,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return Session{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Session{Token: signed, ExpiresAt: exp, Identity: id}, nil
}

func (i *Issuer) Parse(token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Identity{UserID: c.Subject, Email: c.Email, FullName: c.FullName, Role: c.Role}, nil
}
