package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"payvault.org/internal/audit"
	"payvault.org/internal/credential"
	"payvault.org/internal/guard"
	"payvault.org/internal/ids"
	"payvault.org/internal/obs"
	"payvault.org/internal/token"
	"payvault.org/internal/validate"
)

// Failure reasons recorded on login_failed audit events. The caller only
// ever sees ErrInvalidCredentials.
const (
	reasonThrottled       = "throttled"
	reasonMalformedInput  = "malformed_input"
	reasonUnknownIdentity = "unknown_identity"
	reasonDisabled        = "account_disabled"
	reasonBadPassword     = "password_mismatch"
)

// An IP accumulating this many login failures inside the window is flagged
// with a suspicious_activity event.
const (
	suspiciousThreshold = 10
	suspiciousWindow    = 15 * time.Minute
)

// Service composes validation, credential hashing, token issuance, audit
// logging and abuse tracking into the authentication entry points used by
// the HTTP layer.
type Service struct {
	identities IdentityStore
	resets     ResetTokenStore
	hasher     *credential.Pool
	issuer     *token.Issuer
	guard      *guard.Guard
	recorder   *audit.Recorder
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithResetTokens overrides the reset token store. Defaults to the in-memory
// implementation.
func WithResetTokens(store ResetTokenStore) ServiceOption {
	return func(s *Service) error {
		if store == nil {
			return errors.New("auth: reset token store is required")
		}
		s.resets = store
		return nil
	}
}

// NewService wires the authentication service from its collaborators.
func NewService(identities IdentityStore, hasher *credential.Pool, issuer *token.Issuer, g *guard.Guard, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if identities == nil || hasher == nil || issuer == nil || g == nil || recorder == nil {
		return nil, errors.New("auth: identities, hasher, issuer, guard and recorder are required")
	}
	svc := &Service{
		identities: identities,
		resets:     NewMemoryResetTokens(),
		hasher:     hasher,
		issuer:     issuer,
		guard:      g,
		recorder:   recorder,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Authenticate runs one login attempt end to end: abuse guard, whitelist
// validation, identity lookup, credential verification, token mint. Exactly
// one login_success or login_failed event is recorded per call. Every
// failure surfaces as ErrInvalidCredentials except a tripped guard, which
// surfaces as *guard.ThrottledError.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Session, error) {
	ip := strings.TrimSpace(creds.IP)
	username := validate.NormalizeUsername(creds.Username)

	// Guard first: a locked scope is rejected before any hash work.
	if err := s.guard.Check(ctx, guard.ClassLogin, ip); err != nil {
		return s.throttled(ctx, creds, username, ip, err)
	}
	if err := s.guard.Check(ctx, guard.ClassLogin, scopeKey(ip, username)); err != nil {
		return s.throttled(ctx, creds, username, ip, err)
	}

	if !validate.Username(username) || creds.Password == "" {
		if labels := threatLabels(creds.Username); labels != "" {
			s.recorder.Record(ctx, audit.Event{
				Type:          audit.TypeSuspiciousActivity,
				IdentityType:  creds.IdentityType,
				IPAddress:     ip,
				UserAgent:     creds.UserAgent,
				FailureReason: labels,
				Message:       "attack pattern in login input",
			})
		}
		return s.failed(ctx, creds, username, ip, reasonMalformedInput)
	}

	var identity *Identity
	var err error
	switch creds.IdentityType {
	case TypeEmployee:
		identity, err = s.identities.FindEmployee(ctx, username)
	case TypeCustomer:
		if !validate.AccountNumber(creds.AccountNumber) {
			return s.failed(ctx, creds, username, ip, reasonMalformedInput)
		}
		identity, err = s.identities.FindCustomer(ctx, username, creds.AccountNumber)
	default:
		return s.failed(ctx, creds, username, ip, reasonMalformedInput)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.failed(ctx, creds, username, ip, reasonUnknownIdentity)
		}
		return Session{}, internal("identity lookup", err)
	}
	if identity.Status != StatusActive {
		return s.failed(ctx, creds, username, ip, reasonDisabled)
	}
	if !s.hasher.Verify(ctx, creds.Password, identity.Credential) {
		return s.failed(ctx, creds, username, ip, reasonBadPassword)
	}

	if err := s.guard.RecordSuccess(ctx, guard.ClassLogin, ip); err != nil {
		obs.LogError("auth", err, map[string]any{"op": "guard_reset", "ip": ip})
	}
	if err := s.guard.RecordSuccess(ctx, guard.ClassLogin, scopeKey(ip, username)); err != nil {
		obs.LogError("auth", err, map[string]any{"op": "guard_reset", "ip": ip})
	}
	s.maybeRehash(ctx, identity, creds.Password)

	signed, expiresAt, err := s.issuer.Issue(identity.ID, identity.FullName, roleFor(identity.Type))
	if err != nil {
		return Session{}, internal("issue token", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:          audit.TypeLoginSuccess,
		IdentityType:  identity.Type,
		Username:      username,
		AccountNumber: identity.AccountNumber,
		IPAddress:     ip,
		UserAgent:     creds.UserAgent,
	})
	obs.ObserveAuthAttempt(identity.Type, "success")
	return Session{Token: signed, ExpiresAt: expiresAt, Identity: identity}, nil
}

// Authorize verifies a bearer token and returns its claims, nil when the
// token fails verification for any reason.
func (s *Service) Authorize(raw string) *token.Claims {
	return s.issuer.Verify(raw)
}

// Register provisions a customer identity. Inputs run through the whitelist
// validators; the password is hashed before storage. Failed attempts count
// against the register route class.
func (s *Service) Register(ctx context.Context, reg Registration) (*Identity, error) {
	ip := strings.TrimSpace(reg.IP)
	if err := s.guard.Check(ctx, guard.ClassRegister, ip); err != nil {
		return nil, err
	}
	if err := validateRegistration(&reg); err != nil {
		s.recordGuardFailure(ctx, guard.ClassRegister, ip)
		return nil, err
	}
	// full_name is the one field whose whitelist still admits bare SQL
	// keywords, so it gets the detector pass on top.
	if labels := threatLabels(reg.FullName); labels != "" {
		s.recordGuardFailure(ctx, guard.ClassRegister, ip)
		s.recorder.Record(ctx, audit.Event{
			Type:          audit.TypeSuspiciousActivity,
			IdentityType:  TypeCustomer,
			IPAddress:     ip,
			UserAgent:     reg.UserAgent,
			FailureReason: labels,
			Message:       "attack pattern in registration input",
		})
		return nil, invalid("full_name", "contains disallowed sequences")
	}

	encoded, err := s.hasher.Hash(ctx, reg.Password)
	if err != nil {
		return nil, internal("hash credential", err)
	}
	now := s.now().UTC()
	identity := &Identity{
		ID:            ids.New(),
		Type:          TypeCustomer,
		Username:      reg.Username,
		FullName:      reg.FullName,
		NationalID:    reg.NationalID,
		AccountNumber: reg.AccountNumber,
		Email:         reg.Email,
		Credential:    encoded,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			s.recordGuardFailure(ctx, guard.ClassRegister, ip)
			return nil, err
		}
		return nil, internal("create identity", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:          audit.TypeRegistrationSuccess,
		IdentityType:  TypeCustomer,
		Username:      reg.Username,
		AccountNumber: reg.AccountNumber,
		IPAddress:     ip,
		UserAgent:     reg.UserAgent,
	})
	return identity, nil
}

// StartPasswordReset issues a one-time reset token. The outcome is the same
// whether or not the identity exists, so the endpoint cannot be used to
// probe for usernames: the raw token (empty for unknown identities) goes
// back to the caller for delivery and is never persisted.
func (s *Service) StartPasswordReset(ctx context.Context, req ResetRequest) (string, error) {
	ip := strings.TrimSpace(req.IP)
	if err := s.guard.Check(ctx, guard.ClassGeneral, ip); err != nil {
		return "", err
	}
	username := validate.NormalizeUsername(req.Username)
	if !validate.Username(username) {
		return "", nil
	}

	identity, err := s.findIdentity(ctx, req.IdentityType, username, req.AccountNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", internal("password reset", err)
	}

	raw, err := credential.GenerateSecureToken(credential.SecureTokenBytes)
	if err != nil {
		return "", internal("password reset", err)
	}
	tok := ResetToken{
		TokenHash:    credential.HashToken(raw),
		IdentityID:   identity.ID,
		IdentityType: identity.Type,
		Username:     username,
		ExpiresAt:    s.now().UTC().Add(credential.SecureTokenTTL),
	}
	if err := s.resets.Save(ctx, tok); err != nil {
		return "", internal("password reset", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:         audit.TypePasswordReset,
		IdentityType: identity.Type,
		Username:     username,
		IPAddress:    ip,
		UserAgent:    req.UserAgent,
		Message:      "reset token issued",
	})
	return raw, nil
}

// CompletePasswordReset redeems a reset token and installs the new
// credential. Tokens are single use; the consume happens before the
// credential write so a concurrent double submit cannot redeem twice.
func (s *Service) CompletePasswordReset(ctx context.Context, rawToken, newPassword, ip, userAgent string) error {
	ip = strings.TrimSpace(ip)
	if err := s.guard.Check(ctx, guard.ClassGeneral, ip); err != nil {
		return err
	}
	if strings.TrimSpace(rawToken) == "" {
		s.recordGuardFailure(ctx, guard.ClassGeneral, ip)
		return ErrInvalidResetToken
	}
	if !validate.Password(newPassword) {
		return invalid("password", "must be 8-100 characters with upper, lower, digit and special")
	}

	rec, err := s.resets.Find(ctx, credential.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recordGuardFailure(ctx, guard.ClassGeneral, ip)
			return ErrInvalidResetToken
		}
		return internal("password reset", err)
	}
	if rec.Consumed || s.now().UTC().After(rec.ExpiresAt) {
		s.recordGuardFailure(ctx, guard.ClassGeneral, ip)
		return ErrInvalidResetToken
	}

	encoded, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return internal("hash credential", err)
	}
	if err := s.resets.Consume(ctx, rec.TokenHash); err != nil {
		// Lost the redeem race: the token was consumed after the Find.
		if errors.Is(err, ErrInvalidResetToken) || errors.Is(err, ErrNotFound) {
			s.recordGuardFailure(ctx, guard.ClassGeneral, ip)
			return ErrInvalidResetToken
		}
		return internal("password reset", err)
	}
	if err := s.identities.UpdateCredential(ctx, rec.IdentityID, encoded); err != nil {
		return internal("password reset", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:         audit.TypePasswordReset,
		IdentityType: rec.IdentityType,
		Username:     rec.Username,
		IPAddress:    ip,
		UserAgent:    userAgent,
		Message:      "password changed",
	})
	return nil
}

// throttled records the denied attempt and passes the guard verdict through
// unchanged. The guard does not count attempts made while locked, but the
// attempt still lands on the audit trail and feeds the per-IP volume signal.
func (s *Service) throttled(ctx context.Context, creds Credentials, username, ip string, err error) (Session, error) {
	s.recorder.Record(ctx, audit.Event{
		Type:          audit.TypeLoginFailed,
		IdentityType:  creds.IdentityType,
		Username:      username,
		IPAddress:     ip,
		UserAgent:     creds.UserAgent,
		FailureReason: reasonThrottled,
	})
	obs.ObserveAuthAttempt(typeLabel(creds.IdentityType), "throttled")
	s.noteSuspiciousVolume(ctx, creds, username, ip)
	return Session{}, err
}

// failed records the single login_failed event for the attempt, advances the
// abuse counters and reports lockout transitions and suspicious volume.
func (s *Service) failed(ctx context.Context, creds Credentials, username, ip, reason string) (Session, error) {
	s.recorder.Record(ctx, audit.Event{
		Type:          audit.TypeLoginFailed,
		IdentityType:  creds.IdentityType,
		Username:      username,
		IPAddress:     ip,
		UserAgent:     creds.UserAgent,
		FailureReason: reason,
	})
	obs.ObserveAuthAttempt(typeLabel(creds.IdentityType), "failure")

	lockedIP, err := s.guard.RecordFailure(ctx, guard.ClassLogin, ip)
	if err != nil {
		obs.LogError("auth", err, map[string]any{"op": "guard_failure", "ip": ip})
	}
	lockedScope, err := s.guard.RecordFailure(ctx, guard.ClassLogin, scopeKey(ip, username))
	if err != nil {
		obs.LogError("auth", err, map[string]any{"op": "guard_failure", "ip": ip})
	}
	if lockedIP || lockedScope {
		s.recorder.Record(ctx, audit.Event{
			Type:         audit.TypeAccountLocked,
			IdentityType: creds.IdentityType,
			Username:     username,
			IPAddress:    ip,
			UserAgent:    creds.UserAgent,
			Message:      "scope locked after repeated failures",
		})
	}
	s.noteSuspiciousVolume(ctx, creds, username, ip)
	return Session{}, ErrInvalidCredentials
}

// noteSuspiciousVolume emits one suspicious_activity event the moment the
// rolling per-IP failure count reaches the reporting threshold. Attempts
// denied while locked count toward the volume.
func (s *Service) noteSuspiciousVolume(ctx context.Context, creds Credentials, username, ip string) {
	n, err := s.recorder.FailedAttemptsByIP(ctx, ip, suspiciousWindow)
	if err != nil || n != suspiciousThreshold {
		return
	}
	s.recorder.Record(ctx, audit.Event{
		Type:         audit.TypeSuspiciousActivity,
		IdentityType: creds.IdentityType,
		Username:     username,
		IPAddress:    ip,
		UserAgent:    creds.UserAgent,
		Message:      "repeated login failures from address",
	})
}

func (s *Service) recordGuardFailure(ctx context.Context, class guard.Class, key string) {
	if _, err := s.guard.RecordFailure(ctx, class, key); err != nil {
		obs.LogError("auth", err, map[string]any{"op": "guard_failure", "class": string(class)})
	}
}

// maybeRehash upgrades the stored credential in place after a successful
// verify when the hashing policy changed. Failures are logged and ignored,
// the login already succeeded.
func (s *Service) maybeRehash(ctx context.Context, identity *Identity, password string) {
	if !s.hasher.NeedsRehash(identity.Credential) {
		return
	}
	encoded, err := s.hasher.Hash(ctx, password)
	if err != nil {
		obs.LogError("auth", err, map[string]any{"op": "rehash", "identity": identity.ID})
		return
	}
	if err := s.identities.UpdateCredential(ctx, identity.ID, encoded); err != nil {
		obs.LogError("auth", err, map[string]any{"op": "rehash", "identity": identity.ID})
		return
	}
	identity.Credential = encoded
}

func (s *Service) findIdentity(ctx context.Context, identityType, username, accountNumber string) (*Identity, error) {
	switch identityType {
	case TypeEmployee:
		return s.identities.FindEmployee(ctx, username)
	case TypeCustomer:
		if !validate.AccountNumber(accountNumber) {
			return nil, ErrNotFound
		}
		return s.identities.FindCustomer(ctx, username, accountNumber)
	default:
		return nil, ErrNotFound
	}
}

func validateRegistration(reg *Registration) error {
	reg.FullName = strings.TrimSpace(reg.FullName)
	reg.Username = validate.NormalizeUsername(reg.Username)
	reg.Email = strings.TrimSpace(strings.ToLower(reg.Email))
	switch {
	case !validate.FullName(reg.FullName):
		return invalid("full_name", "must be 2-100 letters, spaces, hyphens or apostrophes")
	case !validate.NationalID(reg.NationalID):
		return invalid("national_id", "must be 13 digits")
	case !validate.AccountNumber(reg.AccountNumber):
		return invalid("account_number", "must be 10-16 digits")
	case !validate.Username(reg.Username):
		return invalid("username", "must be 3-50 letters, digits or underscores")
	case reg.Email != "" && !validate.Email(reg.Email):
		return invalid("email", "not a valid address")
	case !validate.Password(reg.Password):
		return invalid("password", "must be 8-100 characters with upper, lower, digit and special")
	}
	return nil
}

// threatLabels runs the detectors over free-text inputs and joins the matched
// labels. The hostile values themselves are never copied into events.
func threatLabels(values ...string) string {
	var labels []string
	for _, v := range values {
		for _, th := range validate.SecurityCheck(v) {
			labels = append(labels, string(th))
		}
	}
	return strings.Join(labels, ",")
}

func scopeKey(ip, username string) string {
	return ip + "|" + username
}

func roleFor(identityType string) string {
	if identityType == TypeEmployee {
		return token.RoleEmployee
	}
	return token.RoleCustomer
}

func typeLabel(identityType string) string {
	switch identityType {
	case TypeCustomer, TypeEmployee:
		return identityType
	default:
		return "unknown"
	}
}
