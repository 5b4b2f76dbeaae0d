package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLen = 8

func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLen {
		return apperr.Invalid("password must be at least %d characters", MinPasswordLen)
	}
	if len(pw) > 72 {
		return apperr.Invalid("password must be at most 72 bytes")
	}
	return nil
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ComparePassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// compared against when the email is unknown so both paths cost one bcrypt run
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("farmgoods-dummy-password"), bcrypt.DefaultCost)

type UserFinder interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

type Authenticator struct {
	Users  UserFinder
	Issuer *Issuer
}

// Login verifies a password credential and issues a session. Unknown email and
// wrong password fail identically.
func (a *Authenticator) Login(ctx context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, apperr.Invalid("email and password are required")
	}
	u, err := a.Users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return Session{}, apperr.ErrInvalidCredentials
		}
		return Session{}, apperr.Transaction(err)
	}
	if !ComparePassword(u.PasswordHash, password) {
		return Session{}, apperr.ErrInvalidCredentials
	}
	return a.Issuer.Issue(u.Identity())
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
