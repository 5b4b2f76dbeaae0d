package otp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/auth"
)

type Flow string

const (
	FlowRegistration  Flow = "registration"
	FlowPasswordReset Flow = "password_reset"
)

func (f Flow) Valid() bool {
	return f == FlowRegistration || f == FlowPasswordReset
}

// Record is one pending or verified OTP. At most one unverified record exists
// per email and flow.
type Record struct {
	ID        string
	Email     string
	Code      string
	Flow      Flow
	Payload   json.RawMessage
	IssuedAt  time.Time
	ExpiresAt time.Time
	Verified  bool
}

func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

const payloadVersion = 1

// RegistrationPayload is what a registration OTP carries until the user row
// is created. The password is already hashed.
type RegistrationPayload struct {
	V            int       `json:"v"`
	FullName     string    `json:"fullName"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"passwordHash"`
	Role         auth.Role `json:"role"`
	Address      string    `json:"address,omitempty"`
}

type ResetPayload struct {
	V        int    `json:"v"`
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
}

var ErrPayloadDecode = errors.New("otp: payload decode failed")

func encodePayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("otp: encode payload: %w", err)
	}
	return b, nil
}

func decodeRegistration(raw json.RawMessage) (RegistrationPayload, error) {
	var p RegistrationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, apperr.Transaction(fmt.Errorf("%w: %v", ErrPayloadDecode, err))
	}
	if p.V != payloadVersion || p.PasswordHash == "" || !p.Role.Valid() {
		return p, apperr.Transaction(fmt.Errorf("%w: unexpected registration payload v%d", ErrPayloadDecode, p.V))
	}
	return p, nil
}

func decodeReset(raw json.RawMessage) (ResetPayload, error) {
	var p ResetPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, apperr.Transaction(fmt.Errorf("%w: %v", ErrPayloadDecode, err))
	}
	if p.V != payloadVersion || p.UserID == "" {
		return p, apperr.Transaction(fmt.Errorf("%w: unexpected reset payload v%d", ErrPayloadDecode, p.V))
	}
	return p, nil
}

// recipientName is the greeting used in the OTP mail.
func recipientName(r Record) string {
	switch r.Flow {
	case FlowRegistration:
		if p, err := decodeRegistration(r.Payload); err == nil {
			return p.FullName
		}
	case FlowPasswordReset:
		if p, err := decodeReset(r.Payload); err == nil {
			return p.FullName
		}
	}
	return ""
}
