package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateAccount(ctx context.Context, account model.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, sevarth_id, password_hash, role, access_level, email, mobile, active, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, account.ID, account.SevarthID, account.PasswordHash, account.Role, account.AccessLevel,
		account.Email, account.Mobile, account.Active, account.PasswordChangedAt, account.CreatedAt, account.UpdatedAt)
	return err
}

func (s *Store) GetAccountBySevarthID(ctx context.Context, sevarthID string) (model.Account, bool, error) {
	return s.scanAccount(ctx, `
		SELECT id, sevarth_id, password_hash, role, access_level, email, mobile, active, password_changed_at, created_at, updated_at
		FROM accounts
		WHERE sevarth_id = $1
	`, sevarthID)
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (model.Account, bool, error) {
	return s.scanAccount(ctx, `
		SELECT id, sevarth_id, password_hash, role, access_level, email, mobile, active, password_changed_at, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID)
}

func (s *Store) scanAccount(ctx context.Context, query, arg string) (model.Account, bool, error) {
	var account model.Account
	row := s.pool.QueryRow(ctx, query, arg)
	err := row.Scan(
		&account.ID,
		&account.SevarthID,
		&account.PasswordHash,
		&account.Role,
		&account.AccessLevel,
		&account.Email,
		&account.Mobile,
		&account.Active,
		&account.PasswordChangedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, false, nil
	}
	if err != nil {
		return model.Account{}, false, err
	}
	return account, true, nil
}

func (s *Store) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET active = $1, updated_at = now()
		WHERE id = $2
	`, active, accountID)
	return err
}

func (s *Store) UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $1, password_changed_at = $2, updated_at = $2
		WHERE id = $3
	`, passwordHash, changedAt, accountID)
	return err
}

func (s *Store) DeactivateOTPRecords(ctx context.Context, accountID string, purpose model.Purpose) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE otp_records
		SET active = false
		WHERE account_id = $1 AND purpose = $2 AND active = true
	`, accountID, purpose)
	return err
}

func (s *Store) CreateOTPRecord(ctx context.Context, record model.OTPRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO otp_records (id, account_id, purpose, code_hash, created_at, expires_at, active, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.AccountID, record.Purpose, record.CodeHash,
		record.CreatedAt, record.ExpiresAt, record.Active, record.Attempts)
	return err
}

func (s *Store) GetActiveOTPRecord(ctx context.Context, accountID string, purpose model.Purpose, now time.Time) (model.OTPRecord, bool, error) {
	var record model.OTPRecord
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, purpose, code_hash, created_at, expires_at, active, attempts
		FROM otp_records
		WHERE account_id = $1 AND purpose = $2 AND active = true AND expires_at > $3
	`, accountID, purpose, now)
	err := row.Scan(
		&record.ID,
		&record.AccountID,
		&record.Purpose,
		&record.CodeHash,
		&record.CreatedAt,
		&record.ExpiresAt,
		&record.Active,
		&record.Attempts,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OTPRecord{}, false, nil
	}
	if err != nil {
		return model.OTPRecord{}, false, err
	}
	return record, true, nil
}

// IncrementOTPAttempts is the compare-and-increment: concurrent guesses
// against the same record each observe a distinct attempt count.
func (s *Store) IncrementOTPAttempts(ctx context.Context, recordID string) (int, error) {
	var attempts int
	row := s.pool.QueryRow(ctx, `
		UPDATE otp_records
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`, recordID)
	if err := row.Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func (s *Store) MarkOTPUsed(ctx context.Context, recordID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE otp_records
		SET active = false
		WHERE id = $1
	`, recordID)
	return err
}

func (s *Store) GetLockout(ctx context.Context, accountID string, purpose model.Purpose) (model.LockoutRecord, bool, error) {
	var record model.LockoutRecord
	row := s.pool.QueryRow(ctx, `
		SELECT account_id, purpose, locked_until
		FROM lockouts
		WHERE account_id = $1 AND purpose = $2
	`, accountID, purpose)
	err := row.Scan(&record.AccountID, &record.Purpose, &record.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LockoutRecord{}, false, nil
	}
	if err != nil {
		return model.LockoutRecord{}, false, err
	}
	return record, true, nil
}

func (s *Store) UpsertLockout(ctx context.Context, record model.LockoutRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lockouts (account_id, purpose, locked_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, purpose) DO UPDATE SET locked_until = EXCLUDED.locked_until
	`, record.AccountID, record.Purpose, record.LockedUntil)
	return err
}

// ReplacePersistentToken clears the account's previous tokens and inserts
// the new one in a single transaction, so no concurrent resume observes a
// window with zero valid tokens.
func (s *Store) ReplacePersistentToken(ctx context.Context, token model.PersistentToken) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM persistent_tokens WHERE account_id = $1`, token.AccountID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO persistent_tokens (id, account_id, token_hash, created_at, expires_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, token.ID, token.AccountID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.UserAgent, token.IPAddress); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetPersistentTokenByHash(ctx context.Context, tokenHash string) (model.PersistentToken, bool, error) {
	var token model.PersistentToken
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, token_hash, created_at, expires_at, user_agent, ip_address
		FROM persistent_tokens
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&token.ID, &token.AccountID, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt, &token.UserAgent, &token.IPAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PersistentToken{}, false, nil
	}
	if err != nil {
		return model.PersistentToken{}, false, err
	}
	return token, true, nil
}

func (s *Store) ExtendPersistentToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE persistent_tokens
		SET expires_at = $1
		WHERE id = $2
	`, expiresAt, tokenID)
	return err
}

func (s *Store) DeletePersistentTokens(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM persistent_tokens WHERE account_id = $1`, accountID)
	return err
}
