package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payvault.org/internal/audit"
	"payvault.org/internal/guard"
	"payvault.org/internal/obs"
	"payvault.org/internal/payment"
	"payvault.org/internal/token"
	"payvault.org/internal/validate"
)

type createPaymentRequest struct {
	Amount             float64 `json:"amount"`
	Currency           string  `json:"currency"`
	Provider           string  `json:"provider"`
	PayeeAccountNumber string  `json:"payee_account_number"`
	PayeeName          string  `json:"payee_name"`
	SwiftCode          string  `json:"swift_code"`
	Reference          string  `json:"reference"`
	IdempotencyKey     string  `json:"idempotency_key"`
}

type listPaymentsResponse struct {
	Items []payment.Payment `json:"items"`
	AsOf  time.Time         `json:"as_of"`
}

func (a *API) handlePaymentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPayment(w, r)
	case http.MethodGet:
		a.listOwnPayments(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePaymentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if path == "pending" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listPendingPayments(w, r)
		return
	}

	if id, ok := strings.CutSuffix(path, "/verify"); ok && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reviewPayment(w, r, id, "verify")
		return
	}
	if id, ok := strings.CutSuffix(path, "/submit"); ok && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reviewPayment(w, r, id, "submit")
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getPayment(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.requireRole(w, r, token.RoleCustomer)
	if !ok {
		return
	}

	ip := clientIP(r)
	if err := a.guard.Check(r.Context(), guard.ClassPayment, ip); err != nil {
		a.handleAuthError(w, r, guard.ClassPayment, err)
		return
	}

	var req createPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}
	// The key is the one free-text payment field without a whitelist; it is
	// stored and echoed back, so attack shapes are rejected outright.
	if threats := validate.SecurityCheck(idem); len(threats) > 0 {
		a.flagHostileKey(r, threats)
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key contains disallowed content")
		return
	}

	pay, err := a.payments.Create(r.Context(), payment.Draft{
		CustomerID:         claims.Subject,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Provider:           req.Provider,
		PayeeAccountNumber: req.PayeeAccountNumber,
		PayeeName:          req.PayeeName,
		SwiftCode:          req.SwiftCode,
		Reference:          req.Reference,
		IdempotencyKey:     idem,
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidInput) {
			a.recordPaymentAbuse(r)
		}
		handlePaymentError(w, r, err)
		return
	}

	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	w.Header().Set("Location", "/v1/payments/"+pay.ID)
	writeJSON(w, http.StatusCreated, pay)
}

// flagHostileKey reports an attack-shaped idempotency key straight to the
// security feed and burns the payment budget for the address.
func (a *API) flagHostileKey(r *http.Request, threats []validate.Threat) {
	labels := make([]string, len(threats))
	for i, th := range threats {
		labels[i] = string(th)
	}
	ip := clientIP(r)
	a.recorder.Record(r.Context(), audit.Event{
		Type:          audit.TypeSuspiciousActivity,
		IdentityType:  token.RoleCustomer,
		IPAddress:     ip,
		UserAgent:     r.UserAgent(),
		FailureReason: strings.Join(labels, ","),
		Message:       "attack pattern in idempotency key",
	})
	if _, err := a.guard.RecordFailure(r.Context(), guard.ClassPayment, ip); err != nil {
		obs.LogError("httpapi", err, map[string]any{"op": "guard_failure", "ip": ip})
	}
}

// recordPaymentAbuse counts a rejected draft against the payment budget.
// A scope that crosses the threshold lands on the security feed.
func (a *API) recordPaymentAbuse(r *http.Request) {
	ip := clientIP(r)
	locked, err := a.guard.RecordFailure(r.Context(), guard.ClassPayment, ip)
	if err != nil || !locked {
		return
	}
	a.recorder.Record(r.Context(), audit.Event{
		Type:         audit.TypeSuspiciousActivity,
		IdentityType: token.RoleCustomer,
		IPAddress:    ip,
		UserAgent:    r.UserAgent(),
		Message:      "repeated invalid payment drafts from address",
	})
}

func (a *API) listOwnPayments(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.requireRole(w, r, token.RoleCustomer)
	if !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.payments.ListByCustomer(r.Context(), claims.Subject, limit)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listPaymentsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) listPendingPayments(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRole(w, r, token.RoleEmployee); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.payments.ListPending(r.Context(), limit)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listPaymentsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := a.requireRole(w, r, token.RoleCustomer, token.RoleEmployee)
	if !ok {
		return
	}
	pay, err := a.payments.Get(r.Context(), id)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	if claims.Role == token.RoleCustomer && pay.CustomerID != claims.Subject {
		// A customer probing foreign payment ids gets the same 404 as a
		// missing record, plus an audit trail entry.
		a.recorder.Record(r.Context(), audit.Event{
			Type:         audit.TypeUnauthorizedAccess,
			IdentityType: claims.Role,
			IPAddress:    clientIP(r),
			UserAgent:    r.UserAgent(),
			Message:      "identity " + claims.Subject + " requested foreign payment " + id,
		})
		writeError(w, r, http.StatusNotFound, "payment: not found")
		return
	}
	writeJSON(w, http.StatusOK, pay)
}

func (a *API) reviewPayment(w http.ResponseWriter, r *http.Request, id, action string) {
	claims, ok := a.requireRole(w, r, token.RoleEmployee)
	if !ok {
		return
	}
	var (
		pay payment.Payment
		err error
	)
	switch action {
	case "verify":
		pay, err = a.payments.Verify(r.Context(), id, claims.Subject)
	default:
		pay, err = a.payments.Submit(r.Context(), id, claims.Subject)
	}
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pay)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
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

func handlePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.LogError("httpapi", err, map[string]any{"path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
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
