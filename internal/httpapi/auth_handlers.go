package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"payvault.org/internal/auth"
	"payvault.org/internal/guard"
	"payvault.org/internal/obs"
)

type registerRequest struct {
	FullName      string `json:"full_name"`
	NationalID    string `json:"national_id"`
	AccountNumber string `json:"account_number"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
}

type loginRequest struct {
	IdentityType  string `json:"identity_type"`
	Username      string `json:"username"`
	AccountNumber string `json:"account_number"`
	Password      string `json:"password"`
}

type resetStartRequest struct {
	IdentityType  string `json:"identity_type"`
	Username      string `json:"username"`
	AccountNumber string `json:"account_number"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type sessionInfoResponse struct {
	IdentityID string    `json:"identity_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := a.auth.Register(r.Context(), auth.Registration{
		FullName:      req.FullName,
		NationalID:    req.NationalID,
		AccountNumber: req.AccountNumber,
		Username:      req.Username,
		Email:         req.Email,
		Password:      req.Password,
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		a.handleAuthError(w, r, guard.ClassRegister, err)
		return
	}

	writeJSON(w, http.StatusCreated, identity)
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

	session, err := a.auth.Authenticate(r.Context(), auth.Credentials{
		IdentityType:  identityTypeOrDefault(req.IdentityType),
		Username:      req.Username,
		AccountNumber: req.AccountNumber,
		Password:      req.Password,
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		a.handleAuthError(w, r, guard.ClassLogin, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// handlePasswordResetStart accepts the request and hands any minted token
// to the delivery hook. The response is the same whether or not the
// identity exists, so the endpoint cannot confirm usernames.
func (a *API) handlePasswordResetStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req resetStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := a.auth.StartPasswordReset(r.Context(), auth.ResetRequest{
		IdentityType:  identityTypeOrDefault(req.IdentityType),
		Username:      req.Username,
		AccountNumber: req.AccountNumber,
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		a.handleAuthError(w, r, guard.ClassGeneral, err)
		return
	}

	if raw != "" && a.resetDelivery != nil {
		a.resetDelivery(strings.TrimSpace(req.Username), raw)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
	})
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.auth.CompletePasswordReset(r.Context(), req.Token, req.NewPassword, clientIP(r), r.UserAgent())
	if err != nil {
		a.handleAuthError(w, r, guard.ClassGeneral, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "password_changed",
	})
}

// handleSession echoes the verified claims back to the caller. Useful for
// web clients restoring state after a reload.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, sessionInfoResponse{
		IdentityID: claims.Subject,
		Name:       claims.DisplayName,
		Role:       claims.Role,
		ExpiresAt:  claims.ExpiresAt.Time,
	})
}

// handleAuthError maps service errors onto the wire. The guard verdict
// carries its retry hint; everything else collapses into coarse status
// codes so responses leak nothing an attacker can sort by.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, class guard.Class, err error) {
	var throttled *guard.ThrottledError
	var validation *auth.ValidationError
	switch {
	case errors.As(err, &throttled):
		obs.ObserveRateLimited(string(class))
		w.Header().Set("Retry-After", retryAfterSeconds(throttled.RetryAfter))
		writeError(w, r, http.StatusTooManyRequests, "too many attempts")
	case errors.As(err, &validation):
		writeError(w, r, http.StatusBadRequest, validation.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "username or account number already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidResetToken):
		writeError(w, r, http.StatusBadRequest, "invalid or expired reset token")
	default:
		obs.LogError("httpapi", err, map[string]any{"path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func identityTypeOrDefault(t string) string {
	t = strings.TrimSpace(strings.ToLower(t))
	if t == "" {
		return auth.TypeCustomer
	}
	return t
}
