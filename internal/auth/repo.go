package auth

import (
	"context"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const UserColumns = `id, full_name, email, phone, password_hash, role, address, created_at`

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return ScanUser(r.DB.QueryRow(ctx, `SELECT `+UserColumns+` FROM users WHERE lower(email)=lower($1)`, email))
}

// ScanUser reads one row selected with UserColumns.
func ScanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Address, &u.CreatedAt)
	if postgres.NoRows(err) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func InsertUser(ctx context.Context, db execer, u User) error {
	_, err := db.Exec(ctx, `
		INSERT INTO users(id, full_name, email, phone, password_hash, role, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		u.ID, u.FullName, u.Email, u.Phone, u.PasswordHash, string(u.Role), u.Address, u.CreatedAt)
	if c, ok := postgres.UniqueViolation(err); ok && c == "users_email_key" {
		return apperr.Invalid("email is already registered")
	}
	return err
}
