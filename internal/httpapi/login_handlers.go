package httpapi

import (
	"net/http"
	"strings"
	"time"

	"microvision.org/internal/audit"
	"microvision.org/internal/auth"
	"microvision.org/internal/login"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PCID     string `json:"pc_id"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Operator  login.Operator `json:"operator"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	username := strings.TrimSpace(req.Username)
	op, err := a.backend.Login(r.Context(), login.Credentials{
		Username: username,
		Password: req.Password,
		PCID:     strings.TrimSpace(req.PCID),
	})
	if err != nil {
		_ = audit.LogEvent(r.Context(), "login.failed", map[string]any{
			"username": username,
			"error":    err.Error(),
		})
		handleDomainError(w, r, err)
		return
	}

	profile := a.backend.Profile().Label
	token, expiresAt, err := auth.GenerateToken(op, profile, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	ctx := auth.ContextWithOperator(r.Context(), auth.Identity{OperatorID: op.ID, Login: op.Login, Profile: profile})
	_ = audit.LogEvent(ctx, "login.succeeded", map[string]any{
		"mode":       string(op.Mode),
		"via":        op.Via,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Operator:  op,
	})
}

// handleLoginTrace returns the masked trace of the most recent login.
func (a *API) handleLoginTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	trace := a.backend.LastTrace()
	if trace == nil {
		trace = login.NewTrace()
	}
	writeJSON(w, http.StatusOK, map[string]any{"trace": trace})
}

func (a *API) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, a.backend.LastLoginStatus())
}
