package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

// Memory is a mutex-guarded in-process implementation of the same method
// set as Store. It backs local development when DATABASE_URL is empty and
// the package tests.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]model.Account // keyed by id
	otps     map[string]model.OTPRecord
	lockouts map[lockoutKey]model.LockoutRecord
	tokens   map[string]model.PersistentToken // keyed by id
}

type lockoutKey struct {
	accountID string
	purpose   model.Purpose
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]model.Account),
		otps:     make(map[string]model.OTPRecord),
		lockouts: make(map[lockoutKey]model.LockoutRecord),
		tokens:   make(map[string]model.PersistentToken),
	}
}

func (m *Memory) CreateAccount(_ context.Context, account model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.SevarthID == account.SevarthID {
			return errors.New("sevarth id already registered")
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *Memory) GetAccountBySevarthID(_ context.Context, sevarthID string) (model.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.SevarthID == sevarthID {
			return account, true, nil
		}
	}
	return model.Account{}, false, nil
}

func (m *Memory) GetAccountByID(_ context.Context, accountID string) (model.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	return account, ok, nil
}

func (m *Memory) SetAccountActive(_ context.Context, accountID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return errors.New("account not found")
	}
	account.Active = active
	m.accounts[accountID] = account
	return nil
}

func (m *Memory) UpdatePassword(_ context.Context, accountID, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return errors.New("account not found")
	}
	account.PasswordHash = passwordHash
	account.PasswordChangedAt = &changedAt
	account.UpdatedAt = changedAt
	m.accounts[accountID] = account
	return nil
}

func (m *Memory) DeactivateOTPRecords(_ context.Context, accountID string, purpose model.Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.otps {
		if record.AccountID == accountID && record.Purpose == purpose && record.Active {
			record.Active = false
			m.otps[id] = record
		}
	}
	return nil
}

func (m *Memory) CreateOTPRecord(_ context.Context, record model.OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[record.ID] = record
	return nil
}

func (m *Memory) GetActiveOTPRecord(_ context.Context, accountID string, purpose model.Purpose, now time.Time) (model.OTPRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.otps {
		if record.AccountID == accountID && record.Purpose == purpose && record.Active && record.ExpiresAt.After(now) {
			return record, true, nil
		}
	}
	return model.OTPRecord{}, false, nil
}

func (m *Memory) IncrementOTPAttempts(_ context.Context, recordID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.otps[recordID]
	if !ok {
		return 0, errors.New("otp record not found")
	}
	record.Attempts++
	m.otps[recordID] = record
	return record.Attempts, nil
}

func (m *Memory) MarkOTPUsed(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.otps[recordID]
	if !ok {
		return errors.New("otp record not found")
	}
	record.Active = false
	m.otps[recordID] = record
	return nil
}

func (m *Memory) GetLockout(_ context.Context, accountID string, purpose model.Purpose) (model.LockoutRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.lockouts[lockoutKey{accountID, purpose}]
	return record, ok, nil
}

func (m *Memory) UpsertLockout(_ context.Context, record model.LockoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockouts[lockoutKey{record.AccountID, record.Purpose}] = record
	return nil
}

func (m *Memory) ReplacePersistentToken(_ context.Context, token model.PersistentToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.tokens {
		if existing.AccountID == token.AccountID {
			delete(m.tokens, id)
		}
	}
	m.tokens[token.ID] = token
	return nil
}

func (m *Memory) GetPersistentTokenByHash(_ context.Context, tokenHash string) (model.PersistentToken, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.TokenHash == tokenHash {
			return token, true, nil
		}
	}
	return model.PersistentToken{}, false, nil
}

func (m *Memory) ExtendPersistentToken(_ context.Context, tokenID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenID]
	if !ok {
		return errors.New("token not found")
	}
	token.ExpiresAt = expiresAt
	m.tokens[tokenID] = token
	return nil
}

func (m *Memory) DeletePersistentTokens(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, token := range m.tokens {
		if token.AccountID == accountID {
			delete(m.tokens, id)
		}
	}
	return nil
}
