package model

import "time"

// Purpose scopes OTP and lockout state so the login and password-reset
// flows cannot interfere with each other.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposePasswordReset Purpose = "password_reset"
)

type Account struct {
	ID                string
	SevarthID         string
	PasswordHash      string
	Role              string
	AccessLevel       int
	Email             *string
	Mobile            *string
	Active            bool
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OTPRecord stores only the hash of an issued code. At most one active
// record exists per (account, purpose); issuing a new code deactivates
// the previous record first.
type OTPRecord struct {
	ID        string
	AccountID string
	Purpose   Purpose
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
	Attempts  int
}

type LockoutRecord struct {
	AccountID   string
	Purpose     Purpose
	LockedUntil time.Time
}

// PersistentToken is the server side of a "remember me" credential. The
// opaque value lives only in the client cookie; rows hold its hash.
type PersistentToken struct {
	ID        string
	AccountID string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UserAgent *string
	IPAddress *string
}

// Session is ephemeral state held in the session store, never in postgres.
type Session struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	SevarthID    string    `json:"sevarthId"`
	Role         string    `json:"role"`
	AccessLevel  int       `json:"accessLevel"`
	LastActivity time.Time `json:"lastActivity"`
}

type ClientMeta struct {
	UserAgent string
	IPAddress string
}
