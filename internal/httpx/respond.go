package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/logging"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

type errorBody struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation, apperr.KindInvalidCode:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindNoPendingVerification:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindProductUnavailable, apperr.KindAlreadyPaid:
		return http.StatusConflict
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the error's stable message and kind. Transaction
// failures get a generic message; their cause only reaches the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request_failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSON(w, code, errorBody{Message: apperr.Public(err), Kind: string(kind)})
}

// decode reads a JSON body strictly: unknown fields and trailing data are
// validation errors.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("invalid json: %s", describeJSONError(err))
	}
	if dec.More() {
		return apperr.Invalid("invalid json: unexpected trailing data")
	}
	return nil
}

func describeJSONError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	}
	if errors.Is(err, io.EOF) {
		return "empty body"
	}
	return err.Error()
}
