package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"microvision.org/internal/delivery"
	"microvision.org/internal/login"
	"microvision.org/internal/mapping"
	"microvision.org/internal/resolve"
	"microvision.org/internal/schema"
	"microvision.org/internal/session"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps package sentinel errors onto HTTP statuses.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, login.ErrInvalidInput),
		errors.Is(err, mapping.ErrEmptyKey),
		errors.Is(err, resolve.ErrInvalidDecision),
		errors.Is(err, delivery.ErrNoItems),
		errors.Is(err, delivery.ErrNoOperator):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, login.ErrInvalidCredentials),
		errors.Is(err, login.ErrAmbiguousCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, resolve.ErrPassNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, resolve.ErrNoPendingDecision),
		errors.Is(err, resolve.ErrResolutionCancelled):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, resolve.ErrUnknownCode),
		errors.Is(err, login.ErrUnsupportedAuthSchema),
		errors.Is(err, login.ErrProcedure),
		errors.Is(err, schema.ErrSchemaNotFound),
		errors.Is(err, delivery.ErrNoHeaderTable),
		errors.Is(err, delivery.ErrNoDetailTable):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrConnection),
		errors.Is(err, session.ErrNoConnection):
		writeError(w, r, http.StatusServiceUnavailable, "accounting database unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
