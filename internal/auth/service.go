// Package auth coordinates the credential store, OTP engine, and
// session manager behind the portal's login, step-up, and password
// flows.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/altrix0/pcit-crd-sub000/internal/audit"
	"github.com/altrix0/pcit-crd-sub000/internal/crypto"
	"github.com/altrix0/pcit-crd-sub000/internal/metrics"
	"github.com/altrix0/pcit-crd-sub000/internal/model"
	"github.com/altrix0/pcit-crd-sub000/internal/otp"
	"github.com/altrix0/pcit-crd-sub000/internal/session"
)

var (
	// ErrInvalidCredentials covers both unknown sevarth ids and wrong
	// passwords so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidPendingRef  = errors.New("invalid or expired pending reference")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrNoActiveCode       = errors.New("no active verification code")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrAccountExists      = errors.New("sevarth id already registered")
)

// Outcome discriminates the non-error results of login and step-up.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeOTPRequired Outcome = "otp_required"
	OutcomeLocked      Outcome = "locked"
)

type Result struct {
	Outcome     Outcome
	Session     model.Session
	DeviceToken string        // set when a persistent token was issued
	PendingRef  string        // set when Outcome is OutcomeOTPRequired
	RetryAfter  time.Duration // set when Outcome is OutcomeLocked
}

// AccountStore is the credential-store surface of the repository.
type AccountStore interface {
	CreateAccount(ctx context.Context, account model.Account) error
	GetAccountBySevarthID(ctx context.Context, sevarthID string) (model.Account, bool, error)
	GetAccountByID(ctx context.Context, accountID string) (model.Account, bool, error)
	SetAccountActive(ctx context.Context, accountID string, active bool) error
	UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error
	DeactivateOTPRecords(ctx context.Context, accountID string, purpose model.Purpose) error
}

type Config struct {
	JWTSecret         string
	JWTIssuer         string
	StepUpAccessLevel int
	MinPasswordLength int
}

type Service struct {
	accounts AccountStore
	engine   *otp.Engine
	sessions *session.Manager
	audit    *audit.Logger
	metrics  *metrics.Metrics

	jwtSecret         string
	jwtIssuer         string
	stepUpAccessLevel int
	minPasswordLength int

	now func() time.Time
}

func NewService(accounts AccountStore, engine *otp.Engine, sessions *session.Manager, auditLog *audit.Logger, m *metrics.Metrics, cfg Config) *Service {
	if cfg.StepUpAccessLevel <= 0 {
		cfg.StepUpAccessLevel = 3
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}
	if auditLog == nil {
		auditLog = audit.New(nil)
	}
	return &Service{
		accounts:          accounts,
		engine:            engine,
		sessions:          sessions,
		audit:             auditLog,
		metrics:           m,
		jwtSecret:         cfg.JWTSecret,
		jwtIssuer:         cfg.JWTIssuer,
		stepUpAccessLevel: cfg.StepUpAccessLevel,
		minPasswordLength: cfg.MinPasswordLength,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Login verifies credentials and either establishes a session or, when
// the account's access level demands step-up and no trusted device token
// was presented, issues an OTP and returns a pending reference.
func (s *Service) Login(ctx context.Context, sevarthID, password string, rememberMe bool, deviceToken string, meta model.ClientMeta) (Result, error) {
	account, ok, err := s.accounts.GetAccountBySevarthID(ctx, sevarthID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		s.audit.LoginFailed(sevarthID, "unknown_account")
		s.countLogin("invalid_credentials")
		return Result{}, ErrInvalidCredentials
	}
	if err := crypto.CheckPassword(account.PasswordHash, password); err != nil {
		s.audit.LoginFailed(sevarthID, "bad_password")
		s.countLogin("invalid_credentials")
		return Result{}, ErrInvalidCredentials
	}
	if !account.Active {
		s.audit.LoginFailed(sevarthID, "inactive_account")
		s.countLogin("inactive_account")
		return Result{}, ErrInactiveAccount
	}

	stepUp := account.AccessLevel >= s.stepUpAccessLevel
	if stepUp && deviceToken != "" {
		trusted, err := s.sessions.TokenBelongsTo(ctx, account.ID, deviceToken)
		if err != nil {
			return Result{}, err
		}
		if trusted {
			stepUp = false
		}
	}

	if stepUp {
		if err := s.engine.Issue(ctx, account, model.PurposeLogin); err != nil {
			if errors.Is(err, otp.ErrLockedOut) {
				return s.lockedResult(ctx, account.ID, model.PurposeLogin)
			}
			return Result{}, err
		}
		pendingRef, err := newPendingRef(s.jwtSecret, s.jwtIssuer, account.ID, model.PurposeLogin, s.engine.TTL())
		if err != nil {
			return Result{}, err
		}
		s.audit.OTPIssued(account.ID, string(model.PurposeLogin))
		s.countLogin("otp_required")
		return Result{Outcome: OutcomeOTPRequired, PendingRef: pendingRef}, nil
	}

	sess, token, err := s.sessions.Establish(ctx, account, rememberMe, meta)
	if err != nil {
		return Result{}, err
	}
	s.audit.LoginSucceeded(account.ID, account.SevarthID, false)
	s.countLogin("success")
	s.countSession()
	return Result{Outcome: OutcomeSuccess, Session: sess, DeviceToken: token}, nil
}

// CompleteStepUp finishes a suspended login by verifying the OTP named
// by the pending reference.
func (s *Service) CompleteStepUp(ctx context.Context, pendingRef, code string, rememberMe, trustDevice bool, meta model.ClientMeta) (Result, error) {
	accountID, purpose, err := parsePendingRef(s.jwtSecret, s.jwtIssuer, pendingRef)
	if err != nil || purpose != model.PurposeLogin {
		return Result{}, ErrInvalidPendingRef
	}

	verdict, err := s.engine.Verify(ctx, accountID, model.PurposeLogin, code)
	if err != nil {
		return Result{}, err
	}
	if !verdict.Accepted {
		return s.rejectedStepUp(ctx, accountID, model.PurposeLogin, verdict)
	}

	account, ok, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	if !ok || !account.Active {
		return Result{}, ErrInvalidCredentials
	}

	sess, token, err := s.sessions.Establish(ctx, account, rememberMe || trustDevice, meta)
	if err != nil {
		return Result{}, err
	}
	s.audit.LoginSucceeded(account.ID, account.SevarthID, true)
	s.countOTP("accepted")
	s.countLogin("success")
	s.countSession()
	return Result{Outcome: OutcomeSuccess, Session: sess, DeviceToken: token}, nil
}

// Resume returns a live session: the current one when still valid,
// otherwise one rebuilt from the device token.
func (s *Service) Resume(ctx context.Context, sessionID, deviceToken string) (model.Session, error) {
	if sessionID != "" {
		sess, err := s.sessions.Touch(ctx, sessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrSessionExpired) {
			return model.Session{}, err
		}
	}
	if deviceToken == "" {
		return model.Session{}, session.ErrSessionExpired
	}
	sess, err := s.sessions.ResumeFromToken(ctx, deviceToken)
	if err != nil {
		return model.Session{}, err
	}
	s.countSession()
	return sess, nil
}

// Authenticate resolves and refreshes the session for an authenticated
// request.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (model.Session, error) {
	return s.sessions.Touch(ctx, sessionID)
}

func (s *Service) Logout(ctx context.Context, sess model.Session) error {
	if err := s.sessions.InvalidateTokens(ctx, sess.AccountID); err != nil {
		return err
	}
	if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
		return err
	}
	s.audit.LoggedOut(sess.AccountID)
	return nil
}

// ChangePassword verifies the current password before replacing it. All
// reset codes, device tokens, and other sessions of the account are
// invalidated; the calling session stays alive.
func (s *Service) ChangePassword(ctx context.Context, sess model.Session, current, newPassword string) error {
	account, ok, err := s.accounts.GetAccountByID(ctx, sess.AccountID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if err := crypto.CheckPassword(account.PasswordHash, current); err != nil {
		s.audit.LoginFailed(account.SevarthID, "password_change_bad_current")
		return ErrInvalidCredentials
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	if err := s.replacePassword(ctx, account.ID, newPassword); err != nil {
		return err
	}
	if err := s.sessions.InvalidateAccountSessions(ctx, account.ID, sess.ID); err != nil {
		return err
	}
	s.audit.PasswordChanged(account.ID)
	return nil
}

// RequestPasswordReset starts the reset flow for an account. No session
// is required. Unknown or inactive sevarth ids receive a decoy pending
// reference so the response never discloses which accounts exist; the
// decoy names an account id no code was ever issued for, so completing
// it always fails.
func (s *Service) RequestPasswordReset(ctx context.Context, sevarthID string) (Result, error) {
	account, ok, err := s.accounts.GetAccountBySevarthID(ctx, sevarthID)
	if err != nil {
		return Result{}, err
	}
	if !ok || !account.Active {
		s.audit.LoginFailed(sevarthID, "reset_rejected")
		decoy, err := newPendingRef(s.jwtSecret, s.jwtIssuer, uuid.NewString(), model.PurposePasswordReset, s.engine.TTL())
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeOTPRequired, PendingRef: decoy}, nil
	}

	if err := s.engine.Issue(ctx, account, model.PurposePasswordReset); err != nil {
		if errors.Is(err, otp.ErrLockedOut) {
			return s.lockedResult(ctx, account.ID, model.PurposePasswordReset)
		}
		return Result{}, err
	}
	pendingRef, err := newPendingRef(s.jwtSecret, s.jwtIssuer, account.ID, model.PurposePasswordReset, s.engine.TTL())
	if err != nil {
		return Result{}, err
	}
	s.audit.OTPIssued(account.ID, string(model.PurposePasswordReset))
	return Result{Outcome: OutcomeOTPRequired, PendingRef: pendingRef}, nil
}

// ResetPassword completes the reset flow. On success every session and
// device token of the account is dropped; the employee logs in again
// with the new password.
func (s *Service) ResetPassword(ctx context.Context, pendingRef, code, newPassword string) (Result, error) {
	accountID, purpose, err := parsePendingRef(s.jwtSecret, s.jwtIssuer, pendingRef)
	if err != nil || purpose != model.PurposePasswordReset {
		return Result{}, ErrInvalidPendingRef
	}

	verdict, err := s.engine.Verify(ctx, accountID, model.PurposePasswordReset, code)
	if err != nil {
		return Result{}, err
	}
	if !verdict.Accepted {
		return s.rejectedStepUp(ctx, accountID, model.PurposePasswordReset, verdict)
	}
	if err := s.validatePassword(newPassword); err != nil {
		return Result{}, err
	}

	if err := s.replacePassword(ctx, accountID, newPassword); err != nil {
		return Result{}, err
	}
	if err := s.sessions.InvalidateAccountSessions(ctx, accountID, ""); err != nil {
		return Result{}, err
	}
	s.audit.PasswordReset(accountID)
	s.countOTP("accepted")
	return Result{Outcome: OutcomeSuccess}, nil
}

type RegisterParams struct {
	SevarthID   string
	Password    string
	Role        string
	AccessLevel int
	Email       string
	Mobile      string
}

// Register creates a new employee account.
func (s *Service) Register(ctx context.Context, params RegisterParams) (model.Account, error) {
	if _, ok, err := s.accounts.GetAccountBySevarthID(ctx, params.SevarthID); err != nil {
		return model.Account{}, err
	} else if ok {
		return model.Account{}, ErrAccountExists
	}
	if err := s.validatePassword(params.Password); err != nil {
		return model.Account{}, err
	}

	hash, err := crypto.HashPassword(params.Password)
	if err != nil {
		return model.Account{}, err
	}
	now := s.now()
	account := model.Account{
		ID:           uuid.NewString(),
		SevarthID:    params.SevarthID,
		PasswordHash: hash,
		Role:         params.Role,
		AccessLevel:  params.AccessLevel,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if params.Email != "" {
		account.Email = &params.Email
	}
	if params.Mobile != "" {
		account.Mobile = &params.Mobile
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return model.Account{}, err
	}
	s.audit.AccountCreated(account.ID, account.SevarthID)
	return account, nil
}

// DeactivateAccount soft-disables an account; its rows are never
// removed.
func (s *Service) DeactivateAccount(ctx context.Context, accountID string) error {
	if err := s.accounts.SetAccountActive(ctx, accountID, false); err != nil {
		return err
	}
	if err := s.sessions.InvalidateTokens(ctx, accountID); err != nil {
		return err
	}
	return s.sessions.InvalidateAccountSessions(ctx, accountID, "")
}

func (s *Service) replacePassword(ctx context.Context, accountID, newPassword string) error {
	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, hash, s.now()); err != nil {
		return err
	}
	if err := s.accounts.DeactivateOTPRecords(ctx, accountID, model.PurposePasswordReset); err != nil {
		return err
	}
	return s.sessions.InvalidateTokens(ctx, accountID)
}

func (s *Service) rejectedStepUp(ctx context.Context, accountID string, purpose model.Purpose, verdict otp.Result) (Result, error) {
	switch verdict.Reason {
	case otp.ReasonLockedOut:
		s.audit.LockedOut(accountID, string(purpose), int(verdict.RetryAfter.Seconds()))
		s.countOTP("locked_out")
		if s.metrics != nil {
			s.metrics.Lockouts.Inc()
		}
		return Result{Outcome: OutcomeLocked, RetryAfter: verdict.RetryAfter}, nil
	case otp.ReasonNoActiveCode:
		s.audit.OTPRejected(accountID, string(purpose), string(verdict.Reason))
		s.countOTP("no_active_code")
		return Result{}, ErrNoActiveCode
	default:
		s.audit.OTPRejected(accountID, string(purpose), string(verdict.Reason))
		s.countOTP("invalid_code")
		return Result{}, ErrInvalidCode
	}
}

func (s *Service) lockedResult(ctx context.Context, accountID string, purpose model.Purpose) (Result, error) {
	remaining, err := s.engine.RemainingLockout(ctx, accountID, purpose)
	if err != nil {
		return Result{}, err
	}
	s.audit.LockedOut(accountID, string(purpose), int(remaining.Seconds()))
	return Result{Outcome: OutcomeLocked, RetryAfter: remaining}, nil
}

func (s *Service) validatePassword(password string) error {
	if len(password) < s.minPasswordLength {
		return ErrWeakPassword
	}
	hasLetter, hasDigit := false, false
	for _, ch := range password {
		switch {
		case ch >= '0' && ch <= '9':
			hasDigit = true
		case (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z'):
			hasLetter = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

func (s *Service) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countOTP(outcome string) {
	if s.metrics != nil {
		s.metrics.OTPVerifications.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countSession() {
	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}
}
