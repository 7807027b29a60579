package router

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/ids"
	"soapbox.chat/internal/obs"
)

// errorBody is the wire form of a failure.
type errorBody struct {
	Kind       fault.Kind `json:"kind"`
	Message    string     `json:"message"`
	RetryAfter int        `json:"retry_after,omitempty"`
	Holder     string     `json:"holder,omitempty"`
}

// envelope is the uniform response shape of the command surface.
type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{OK: true, Data: data})
}

// writeFault maps a component failure onto the envelope. Unclassified errors
// are redacted to "internal error" and logged with a correlation id.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	fe := fault.As(err)
	if fe.Kind == fault.Internal || fe.Kind == fault.StoreError {
		correlation := ids.New()
		obs.LogEvent(map[string]any{
			"level":          "error",
			"msg":            "request failed",
			"path":           r.URL.Path,
			"kind":           string(fe.Kind),
			"detail":         err.Error(),
			"correlation_id": correlation,
		})
	}
	writeJSON(w, statusFor(fe.Kind), envelope{OK: false, Error: &errorBody{
		Kind:       fe.Kind,
		Message:    fe.Message,
		RetryAfter: fe.RetryAfter,
		Holder:     fe.Holder,
	}})
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.InvalidInput:
		return http.StatusBadRequest
	case fault.InvalidCredentials, fault.TokenExpired, fault.TokenInvalid:
		return http.StatusUnauthorized
	case fault.AccountLocked:
		return http.StatusLocked
	case fault.RoleMismatch, fault.Forbidden:
		return http.StatusForbidden
	case fault.SemaphoreUnavailable, fault.SemaphoreNotHeld, fault.WriterDisabled:
		return http.StatusConflict
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Timeout:
		return http.StatusGatewayTimeout
	case fault.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, envelope{OK: false, Error: &errorBody{
		Kind:    fault.InvalidInput,
		Message: "method not allowed",
	}})
}

// decodeJSON reads a request body of at most 1 MiB into dst and rejects
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fault.New(fault.InvalidInput, "request body is required")
		}
		return fault.New(fault.InvalidInput, "malformed request body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fault.New(fault.InvalidInput, "unexpected data after JSON body")
	}
	return nil
}
