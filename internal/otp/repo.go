package otp

import (
	"context"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) WithTx(ctx context.Context, fn func(Tx) error) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct{ tx pgx.Tx }

const recordColumns = `id, email, otp_code, flow_type, payload, issued_at, expires_at, verified`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.Email, &r.Code, &r.Flow, &r.Payload, &r.IssuedAt, &r.ExpiresAt, &r.Verified)
	if postgres.NoRows(err) {
		return nil, apperr.NotFound("verification")
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) Lock(ctx context.Context, email string, flow Flow) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "otp:"+email+":"+string(flow))
	return err
}

func (t *pgTx) DeletePending(ctx context.Context, email string, flow Flow) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM otp_verifications WHERE lower(email)=lower($1) AND flow_type=$2 AND NOT verified`,
		email, string(flow))
	return err
}

func (t *pgTx) Insert(ctx context.Context, r Record) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO otp_verifications(id, email, otp_code, flow_type, payload, issued_at, expires_at, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Email, r.Code, string(r.Flow), []byte(r.Payload), r.IssuedAt, r.ExpiresAt, r.Verified)
	return err
}

func (t *pgTx) FindPending(ctx context.Context, email, code string, flow Flow) (*Record, error) {
	return scanRecord(t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM otp_verifications
		WHERE lower(email)=lower($1) AND otp_code=$2 AND flow_type=$3 AND NOT verified
		FOR UPDATE`, email, code, string(flow)))
}

func (t *pgTx) LatestPending(ctx context.Context, email string) (*Record, error) {
	return scanRecord(t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM otp_verifications
		WHERE lower(email)=lower($1) AND NOT verified
		ORDER BY issued_at DESC LIMIT 1
		FOR UPDATE`, email))
}

func (t *pgTx) FindVerified(ctx context.Context, email, id string, flow Flow) (*Record, error) {
	return scanRecord(t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM otp_verifications
		WHERE id=$1 AND lower(email)=lower($2) AND flow_type=$3 AND verified
		FOR UPDATE`, id, email, string(flow)))
}

func (t *pgTx) Reissue(ctx context.Context, id, code string, issuedAt, expiresAt time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE otp_verifications SET otp_code=$2, issued_at=$3, expires_at=$4 WHERE id=$1`,
		id, code, issuedAt, expiresAt)
	return err
}

func (t *pgTx) MarkVerified(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx, `UPDATE otp_verifications SET verified=true WHERE id=$1`, id)
	return err
}

func (t *pgTx) Delete(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM otp_verifications WHERE id=$1`, id)
	return err
}

func (t *pgTx) UserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return auth.ScanUser(t.tx.QueryRow(ctx, `SELECT `+auth.UserColumns+` FROM users WHERE lower(email)=lower($1)`, email))
}

func (t *pgTx) CreateUser(ctx context.Context, u auth.User) error {
	return auth.InsertUser(ctx, t.tx, u)
}

func (t *pgTx) SetPassword(ctx context.Context, userID, hash string, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE users SET password_hash=$2, updated_at=$3 WHERE id=$1`, userID, hash, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("user")
	}
	return nil
}
