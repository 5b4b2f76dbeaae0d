package auth

import (
	"context"
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleFarmer   Role = "farmer"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleFarmer, RoleEmployee, RoleAdmin:
		return true
	}
	return false
}

// SelfService reports whether the role may be chosen at public registration.
func (r Role) SelfService() bool {
	return r == RoleCustomer || r == RoleFarmer
}

// Staff roles get long-lived sessions.
func (r Role) Staff() bool {
	return r == RoleEmployee || r == RoleAdmin
}

type User struct {
	ID           string
	FullName     string
	Email        string
	Phone        string
	PasswordHash string
	Role         Role
	Address      string
	CreatedAt    time.Time
}

type Identity struct {
	UserID   string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role"`
}

func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
