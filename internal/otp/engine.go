// Package otp issues and verifies short-lived numeric codes with retry
// ceilings and per-purpose lockout windows.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altrix0/pcit-crd-sub000/internal/crypto"
	"github.com/altrix0/pcit-crd-sub000/internal/delivery"
	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

var (
	ErrLockedOut      = errors.New("verification locked out")
	ErrDeliveryFailed = errors.New("otp delivery failed on every channel")
)

// Reason discriminates why a verification was rejected.
type Reason string

const (
	ReasonLockedOut    Reason = "locked_out"
	ReasonNoActiveCode Reason = "no_active_code"
	ReasonInvalidCode  Reason = "invalid_code"
)

type Result struct {
	Accepted   bool
	Reason     Reason
	RetryAfter time.Duration
}

// Store is the persistence surface the engine needs. *repository.Store
// and *repository.Memory both satisfy it.
type Store interface {
	DeactivateOTPRecords(ctx context.Context, accountID string, purpose model.Purpose) error
	CreateOTPRecord(ctx context.Context, record model.OTPRecord) error
	GetActiveOTPRecord(ctx context.Context, accountID string, purpose model.Purpose, now time.Time) (model.OTPRecord, bool, error)
	IncrementOTPAttempts(ctx context.Context, recordID string) (int, error)
	MarkOTPUsed(ctx context.Context, recordID string) error
	GetLockout(ctx context.Context, accountID string, purpose model.Purpose) (model.LockoutRecord, bool, error)
	UpsertLockout(ctx context.Context, record model.LockoutRecord) error
}

type Config struct {
	TTL           time.Duration
	CodeLength    int
	MaxRetries    int
	LockoutWindow time.Duration
}

type Engine struct {
	store   Store
	senders []delivery.Sender

	ttl           time.Duration
	codeLength    int
	maxRetries    int
	lockoutWindow time.Duration

	now func() time.Time
}

func NewEngine(store Store, senders []delivery.Sender, cfg Config) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = 600 * time.Second
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 1800 * time.Second
	}
	return &Engine{
		store:         store,
		senders:       senders,
		ttl:           cfg.TTL,
		codeLength:    cfg.CodeLength,
		maxRetries:    cfg.MaxRetries,
		lockoutWindow: cfg.LockoutWindow,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// TTL reports how long issued codes stay valid.
func (e *Engine) TTL() time.Duration {
	return e.ttl
}

// Issue supersedes any active code for (account, purpose), stores the
// hash of a fresh one, and dispatches it. The raw code leaves this
// function only through the senders.
func (e *Engine) Issue(ctx context.Context, account model.Account, purpose model.Purpose) error {
	locked, err := e.IsLockedOut(ctx, account.ID, purpose)
	if err != nil {
		return err
	}
	if locked {
		return ErrLockedOut
	}

	if err := e.store.DeactivateOTPRecords(ctx, account.ID, purpose); err != nil {
		return err
	}

	code, err := crypto.GenerateOTP(e.codeLength)
	if err != nil {
		return err
	}

	now := e.now()
	record := model.OTPRecord{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Purpose:   purpose,
		CodeHash:  crypto.HashOTP(account.ID, string(purpose), code),
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl),
		Active:    true,
		Attempts:  0,
	}
	if err := e.store.CreateOTPRecord(ctx, record); err != nil {
		return err
	}

	delivered := false
	var lastErr error
	for _, sender := range e.senders {
		if err := sender.Send(ctx, account, purpose, code); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		if lastErr != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
		}
		return ErrDeliveryFailed
	}
	return nil
}

// Verify consumes one attempt against the active code. The attempt is
// counted before the hash compare, so a crashed or retried request never
// grants a free guess, and reaching the ceiling trips the lockout even
// on that same call.
func (e *Engine) Verify(ctx context.Context, accountID string, purpose model.Purpose, candidate string) (Result, error) {
	locked, err := e.IsLockedOut(ctx, accountID, purpose)
	if err != nil {
		return Result{}, err
	}
	if locked {
		remaining, err := e.RemainingLockout(ctx, accountID, purpose)
		if err != nil {
			return Result{}, err
		}
		return Result{Reason: ReasonLockedOut, RetryAfter: remaining}, nil
	}

	record, ok, err := e.store.GetActiveOTPRecord(ctx, accountID, purpose, e.now())
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Reason: ReasonNoActiveCode}, nil
	}

	attempts, err := e.store.IncrementOTPAttempts(ctx, record.ID)
	if err != nil {
		return Result{}, err
	}
	if attempts >= e.maxRetries {
		lockout := model.LockoutRecord{
			AccountID:   accountID,
			Purpose:     purpose,
			LockedUntil: e.now().Add(e.lockoutWindow),
		}
		if err := e.store.UpsertLockout(ctx, lockout); err != nil {
			return Result{}, err
		}
		return Result{Reason: ReasonLockedOut, RetryAfter: e.lockoutWindow}, nil
	}

	if !crypto.VerifyOTPHash(accountID, string(purpose), candidate, record.CodeHash) {
		return Result{Reason: ReasonInvalidCode}, nil
	}

	if err := e.store.MarkOTPUsed(ctx, record.ID); err != nil {
		return Result{}, err
	}
	return Result{Accepted: true}, nil
}

func (e *Engine) IsLockedOut(ctx context.Context, accountID string, purpose model.Purpose) (bool, error) {
	record, ok, err := e.store.GetLockout(ctx, accountID, purpose)
	if err != nil {
		return false, err
	}
	return ok && e.now().Before(record.LockedUntil), nil
}

// RemainingLockout reports the time left on an active lockout, zero when
// none is in effect.
func (e *Engine) RemainingLockout(ctx context.Context, accountID string, purpose model.Purpose) (time.Duration, error) {
	record, ok, err := e.store.GetLockout(ctx, accountID, purpose)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	remaining := record.LockedUntil.Sub(e.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}
