// Package session establishes short-lived sessions and long-lived
// "remember me" device tokens, and resumes sessions from tokens.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/altrix0/pcit-crd-sub000/internal/crypto"
	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrTokenInvalid   = errors.New("persistent token invalid")
)

// TokenStore is the persistent-token surface of the repository.
type TokenStore interface {
	ReplacePersistentToken(ctx context.Context, token model.PersistentToken) error
	GetPersistentTokenByHash(ctx context.Context, tokenHash string) (model.PersistentToken, bool, error)
	ExtendPersistentToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	DeletePersistentTokens(ctx context.Context, accountID string) error
}

type AccountStore interface {
	GetAccountByID(ctx context.Context, accountID string) (model.Account, bool, error)
}

type Config struct {
	IdleTimeout   time.Duration
	TokenTTL      time.Duration
	RefreshWindow time.Duration
}

type Manager struct {
	sessions Store
	tokens   TokenStore
	accounts AccountStore

	idleTimeout   time.Duration
	tokenTTL      time.Duration
	refreshWindow time.Duration

	now func() time.Time
}

func NewManager(sessions Store, tokens TokenStore, accounts AccountStore, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 1800 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 90 * 24 * time.Hour
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 7 * 24 * time.Hour
	}
	return &Manager{
		sessions:      sessions,
		tokens:        tokens,
		accounts:      accounts,
		idleTimeout:   cfg.IdleTimeout,
		tokenTTL:      cfg.TokenTTL,
		refreshWindow: cfg.RefreshWindow,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Establish creates a session for an authenticated account. When
// rememberMe is set it also issues a fresh device token, returned as the
// second value for the HTTP layer to hand to the client.
func (m *Manager) Establish(ctx context.Context, account model.Account, rememberMe bool, meta model.ClientMeta) (model.Session, string, error) {
	session := model.Session{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		SevarthID:    account.SevarthID,
		Role:         account.Role,
		AccessLevel:  account.AccessLevel,
		LastActivity: m.now(),
	}
	if err := m.sessions.Put(ctx, session, m.idleTimeout); err != nil {
		return model.Session{}, "", err
	}

	token := ""
	if rememberMe {
		issued, err := m.IssuePersistentToken(ctx, account.ID, meta)
		if err != nil {
			return model.Session{}, "", err
		}
		token = issued
	}
	return session, token, nil
}

// IssuePersistentToken replaces the account's previous device token with
// a fresh one and returns the opaque value. Only its hash is stored.
func (m *Manager) IssuePersistentToken(ctx context.Context, accountID string, meta model.ClientMeta) (string, error) {
	value, err := crypto.NewDeviceToken()
	if err != nil {
		return "", err
	}
	now := m.now()
	token := model.PersistentToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: crypto.HashToken(value),
		CreatedAt: now,
		ExpiresAt: now.Add(m.tokenTTL),
	}
	if meta.UserAgent != "" {
		token.UserAgent = &meta.UserAgent
	}
	if meta.IPAddress != "" {
		token.IPAddress = &meta.IPAddress
	}
	if err := m.tokens.ReplacePersistentToken(ctx, token); err != nil {
		return "", err
	}
	return value, nil
}

// ResumeFromToken rebuilds a session from a device token. A token is
// valid strictly before its expiry; at the boundary it is already dead.
// Tokens close to expiry are transparently extended.
func (m *Manager) ResumeFromToken(ctx context.Context, tokenValue string) (model.Session, error) {
	token, ok, err := m.tokens.GetPersistentTokenByHash(ctx, crypto.HashToken(tokenValue))
	if err != nil {
		return model.Session{}, err
	}
	now := m.now()
	if !ok || !now.Before(token.ExpiresAt) {
		return model.Session{}, ErrTokenInvalid
	}

	account, ok, err := m.accounts.GetAccountByID(ctx, token.AccountID)
	if err != nil {
		return model.Session{}, err
	}
	if !ok || !account.Active {
		return model.Session{}, ErrTokenInvalid
	}

	if token.ExpiresAt.Sub(now) < m.refreshWindow {
		if err := m.tokens.ExtendPersistentToken(ctx, token.ID, now.Add(m.tokenTTL)); err != nil {
			return model.Session{}, err
		}
	}

	session, _, err := m.Establish(ctx, account, false, model.ClientMeta{})
	return session, err
}

// TokenBelongsTo reports whether the presented device token is live and
// bound to the given account. Used by the step-up policy to recognize
// trusted devices.
func (m *Manager) TokenBelongsTo(ctx context.Context, accountID, tokenValue string) (bool, error) {
	if tokenValue == "" {
		return false, nil
	}
	token, ok, err := m.tokens.GetPersistentTokenByHash(ctx, crypto.HashToken(tokenValue))
	if err != nil {
		return false, err
	}
	return ok && token.AccountID == accountID && m.now().Before(token.ExpiresAt), nil
}

// Touch refreshes a session's activity timestamp, or invalidates it when
// idle beyond the timeout.
func (m *Manager) Touch(ctx context.Context, sessionID string) (model.Session, error) {
	session, ok, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		return model.Session{}, ErrSessionExpired
	}
	now := m.now()
	if now.Sub(session.LastActivity) > m.idleTimeout {
		if err := m.sessions.Delete(ctx, sessionID); err != nil {
			return model.Session{}, err
		}
		return model.Session{}, ErrSessionExpired
	}
	session.LastActivity = now
	if err := m.sessions.Put(ctx, session, m.idleTimeout); err != nil {
		return model.Session{}, err
	}
	return session, nil
}

func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	return m.sessions.Delete(ctx, sessionID)
}

// InvalidateAccountSessions drops every session the account holds except
// keep (pass empty to drop all).
func (m *Manager) InvalidateAccountSessions(ctx context.Context, accountID, keep string) error {
	return m.sessions.DeleteAccountSessions(ctx, accountID, keep)
}

func (m *Manager) InvalidateTokens(ctx context.Context, accountID string) error {
	return m.tokens.DeletePersistentTokens(ctx, accountID)
}
