package otp

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultTTL        = 10 * time.Minute
	DefaultResetGrace = 30 * time.Minute
)

var tracer = otel.Tracer("github.com/ariefcatur/farmgoods/internal/otp")

type Engine struct {
	Store   Store
	Mailer  Mailer
	Issuer  *auth.Issuer
	Metrics *metrics.Metrics
	Log     *zap.Logger

	TTL        time.Duration
	ResetGrace time.Duration
	Now        func() time.Time
	// Codes defaults to NewCode.
	Codes func() (string, error)
}

type RegistrationRequest struct {
	Email    string
	FullName string
	Phone    string
	Password string
	Role     auth.Role
	Address  string
}

// Verification is the outcome of Verify: a session for registration, a reset
// token for password reset.
type Verification struct {
	Flow       Flow
	Session    *auth.Session
	ResetToken string
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) ttl() time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}
	return DefaultTTL
}

func (e *Engine) grace() time.Duration {
	if e.ResetGrace > 0 {
		return e.ResetGrace
	}
	return DefaultResetGrace
}

func (e *Engine) code() (string, error) {
	if e.Codes != nil {
		return e.Codes()
	}
	return NewCode()
}

func (e *Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e *Engine) finish(span trace.Span, useCase string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
	e.Metrics.Observe(useCase, start, err)
}

func validEmail(email string) (string, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return "", apperr.Invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("invalid email address")
	}
	return email, nil
}

// RequestRegistration stores a registration OTP and mails the code. An email
// that is already registered gets the same acknowledgement and no record.
func (e *Engine) RequestRegistration(ctx context.Context, req RegistrationRequest) (err error) {
	ctx, span := tracer.Start(ctx, "otp.RequestRegistration")
	defer func(start time.Time) { e.finish(span, "otp_request_registration", start, err) }(time.Now())

	email, err := validEmail(req.Email)
	if err != nil {
		return err
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		return apperr.Invalid("full name is required")
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return err
	}
	if req.Role == "" {
		req.Role = auth.RoleCustomer
	}
	if !req.Role.SelfService() {
		return apperr.Invalid("role %q cannot be chosen at registration", req.Role)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return apperr.Transaction(err)
	}
	payload, err := encodePayload(RegistrationPayload{
		V:            payloadVersion,
		FullName:     req.FullName,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		Role:         req.Role,
		Address:      strings.TrimSpace(req.Address),
	})
	if err != nil {
		return apperr.Transaction(err)
	}

	issued, err := e.issue(ctx, email, FlowRegistration, func(tx Tx) ([]byte, bool, error) {
		_, err := tx.UserByEmail(ctx, email)
		switch {
		case err == nil:
			return nil, true, nil
		case errors.Is(err, apperr.ErrNotFound):
			return payload, false, nil
		default:
			return nil, false, err
		}
	})
	if err != nil {
		return err
	}
	if issued != nil {
		e.dispatch(ctx, *issued, req.FullName)
	}
	return nil
}

// RequestPasswordReset stores a reset OTP for a registered email. Unknown
// emails are acknowledged the same way without a record.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "otp.RequestPasswordReset")
	defer func(start time.Time) { e.finish(span, "otp_request_reset", start, err) }(time.Now())

	email, err = validEmail(email)
	if err != nil {
		return err
	}

	var name string
	issued, err := e.issue(ctx, email, FlowPasswordReset, func(tx Tx) ([]byte, bool, error) {
		u, err := tx.UserByEmail(ctx, email)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		name = u.FullName
		b, err := encodePayload(ResetPayload{V: payloadVersion, UserID: u.ID, FullName: u.FullName})
		return b, false, err
	})
	if err != nil {
		return err
	}
	if issued != nil {
		e.dispatch(ctx, *issued, name)
	}
	return nil
}

// issue replaces any unverified record for email and flow with a fresh one.
// prepare may ask to skip issuance; then no record is written and nil is
// returned.
func (e *Engine) issue(ctx context.Context, email string, flow Flow, prepare func(Tx) ([]byte, bool, error)) (*Record, error) {
	code, err := e.code()
	if err != nil {
		return nil, apperr.Transaction(err)
	}
	var out *Record
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		if err := tx.Lock(ctx, email, flow); err != nil {
			return err
		}
		payload, skip, err := prepare(tx)
		if err != nil || skip {
			return err
		}
		if err := tx.DeletePending(ctx, email, flow); err != nil {
			return err
		}
		now := e.now().UTC()
		r := Record{
			ID:        uuid.NewString(),
			Email:     email,
			Code:      code,
			Flow:      flow,
			Payload:   payload,
			IssuedAt:  now,
			ExpiresAt: now.Add(e.ttl()),
		}
		if err := tx.Insert(ctx, r); err != nil {
			return err
		}
		out = &r
		return nil
	})
	if err != nil {
		return nil, apperr.Transaction(err)
	}
	return out, nil
}

// dispatch hands the code to the mailer after commit. Failures are logged and
// counted; the caller still gets its acknowledgement.
func (e *Engine) dispatch(ctx context.Context, r Record, name string) {
	if e.Mailer == nil {
		return
	}
	if err := e.Mailer.SendCode(ctx, r.Email, name, r.Code); err != nil {
		e.Metrics.MailFailed()
		e.log().Error("otp_mail_dispatch_failed",
			zap.String("otp_id", r.ID),
			zap.String("flow", string(r.Flow)),
			zap.Error(err))
	}
}

// Verify checks a code. Registration creates the user, removes the record and
// issues a session. Password reset marks the record verified and returns its
// id as the reset token.
func (e *Engine) Verify(ctx context.Context, email, code string, flow Flow) (_ *Verification, err error) {
	ctx, span := tracer.Start(ctx, "otp.Verify")
	defer func(start time.Time) { e.finish(span, "otp_verify", start, err) }(time.Now())
	span.SetAttributes(attribute.String("otp.flow", string(flow)))

	email, err = validEmail(email)
	if err != nil {
		return nil, err
	}
	if !flow.Valid() {
		return nil, apperr.Invalid("unknown verification flow %q", flow)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Invalid("verification code is required")
	}
	if !wellFormed(code) {
		return nil, apperr.ErrInvalidCode
	}

	out := &Verification{Flow: flow}
	var user auth.User
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		r, err := tx.FindPending(ctx, email, code, flow)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if r.Expired(e.now()) {
			return apperr.ErrExpired
		}

		switch flow {
		case FlowRegistration:
			p, err := decodeRegistration(r.Payload)
			if err != nil {
				return err
			}
			user = auth.User{
				ID:           uuid.NewString(),
				FullName:     p.FullName,
				Email:        email,
				Phone:        p.Phone,
				PasswordHash: p.PasswordHash,
				Role:         p.Role,
				Address:      p.Address,
				CreatedAt:    e.now().UTC(),
			}
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
			return tx.Delete(ctx, r.ID)
		default:
			if _, err := decodeReset(r.Payload); err != nil {
				return err
			}
			if err := tx.MarkVerified(ctx, r.ID); err != nil {
				return err
			}
			out.ResetToken = r.ID
			return nil
		}
	})
	if err != nil {
		return nil, apperr.Transaction(err)
	}

	if flow == FlowRegistration {
		e.log().Info("user_registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
		s, err := e.Issuer.Issue(user.Identity())
		if err != nil {
			return nil, apperr.Transaction(err)
		}
		out.Session = &s
	}
	return out, nil
}

// Resend regenerates the code and expiry of the latest pending record of any
// flow and mails it again.
func (e *Engine) Resend(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "otp.Resend")
	defer func(start time.Time) { e.finish(span, "otp_resend", start, err) }(time.Now())

	email, err = validEmail(email)
	if err != nil {
		return err
	}
	code, err := e.code()
	if err != nil {
		return apperr.Transaction(err)
	}

	var r *Record
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		latest, err := tx.LatestPending(ctx, email)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrNoPendingVerification
		}
		if err != nil {
			return err
		}
		now := e.now().UTC()
		latest.Code = code
		latest.IssuedAt = now
		latest.ExpiresAt = now.Add(e.ttl())
		if err := tx.Reissue(ctx, latest.ID, latest.Code, latest.IssuedAt, latest.ExpiresAt); err != nil {
			return err
		}
		r = latest
		return nil
	})
	if err != nil {
		return apperr.Transaction(err)
	}
	e.dispatch(ctx, *r, recipientName(*r))
	return nil
}

// ResetPassword consumes a verified reset record. The token stays usable for
// the reset grace period past the code's own expiry.
func (e *Engine) ResetPassword(ctx context.Context, email, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "otp.ResetPassword")
	defer func(start time.Time) { e.finish(span, "otp_reset_password", start, err) }(time.Now())

	email, err = validEmail(email)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Invalid("reset token is required")
	}
	if _, perr := uuid.Parse(token); perr != nil {
		return apperr.ErrInvalidCode
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperr.Transaction(err)
	}

	err = e.Store.WithTx(ctx, func(tx Tx) error {
		r, err := tx.FindVerified(ctx, email, token, FlowPasswordReset)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if e.now().After(r.ExpiresAt.Add(e.grace())) {
			return apperr.ErrExpired
		}
		p, err := decodeReset(r.Payload)
		if err != nil {
			return err
		}
		if err := tx.SetPassword(ctx, p.UserID, hash, e.now().UTC()); err != nil {
			return err
		}
		return tx.Delete(ctx, r.ID)
	})
	if err != nil {
		return apperr.Transaction(err)
	}
	e.log().Info("password_reset", zap.String("email_domain", domainOf(email)))
	return nil
}

func domainOf(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return ""
}
