package httpx

import (
	"net/http"

	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/otp"
	"github.com/go-chi/chi/v5"
)

type AuthHandler struct {
	OTP   *otp.Engine
	Login *auth.Authenticator
}

func (h *AuthHandler) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/register/verify", h.verifyRegistration)
		r.Post("/password/forgot", h.forgotPassword)
		r.Post("/password/verify", h.verifyReset)
		r.Post("/password/reset", h.resetPassword)
		r.Post("/otp/resend", h.resend)
		r.Post("/login", h.login)
	})
}

type ackResp struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Same body whether or not a code was actually issued.
func ack(w http.ResponseWriter, email string) {
	writeJSON(w, http.StatusAccepted, ackResp{
		Email:   email,
		Message: "if the address is eligible, a verification code has been sent",
	})
}

type registerReq struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Address  string `json:"address"`
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := h.OTP.RequestRegistration(r.Context(), otp.RegistrationRequest{
		Email:    req.Email,
		FullName: req.FullName,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     auth.Role(req.Role),
		Address:  req.Address,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	ack(w, auth.NormalizeEmail(req.Email))
}

type verifyReq struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (h *AuthHandler) verifyRegistration(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.OTP.Verify(r.Context(), req.Email, req.OTP, otp.FlowRegistration)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v.Session)
}

type emailReq struct {
	Email string `json:"email"`
}

func (h *AuthHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.OTP.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	ack(w, auth.NormalizeEmail(req.Email))
}

func (h *AuthHandler) verifyReset(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.OTP.Verify(r.Context(), req.Email, req.OTP, otp.FlowPasswordReset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resetToken": v.ResetToken})
}

type resetReq struct {
	Email      string `json:"email"`
	ResetToken string `json:"resetToken"`
	Password   string `json:"password"`
}

func (h *AuthHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.OTP.ResetPassword(r.Context(), req.Email, req.ResetToken, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *AuthHandler) resend(w http.ResponseWriter, r *http.Request) {
	var req emailReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.OTP.Resend(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	ack(w, auth.NormalizeEmail(req.Email))
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.Login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
