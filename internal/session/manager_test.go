package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
	"github.com/altrix0/pcit-crd-sub000/internal/repository"
)

func newTestManager(t *testing.T) (*Manager, *repository.Memory, *time.Time) {
	t.Helper()
	repo := repository.NewMemory()
	manager := NewManager(NewMemoryStore(), repo, repo, Config{})
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return now }
	return manager, repo, &now
}

func seedAccount(t *testing.T, repo *repository.Memory) model.Account {
	t.Helper()
	account := model.Account{
		ID:          "b0b1c2d3-0000-0000-0000-000000000002",
		SevarthID:   "B456",
		Role:        "clerk",
		AccessLevel: 1,
		Active:      true,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.CreateAccount(context.Background(), account))
	return account
}

func TestEstablishAndTouch(t *testing.T) {
	manager, repo, now := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	session, token, err := manager.Establish(ctx, account, false, model.ClientMeta{})
	require.NoError(t, err)
	require.Empty(t, token)
	require.Equal(t, account.ID, session.AccountID)
	require.Equal(t, *now, session.LastActivity)

	// Within the idle window the session stays alive.
	*now = now.Add(10 * time.Minute)
	touched, err := manager.Touch(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, *now, touched.LastActivity)

	// Beyond it the next touch invalidates.
	*now = now.Add(31 * time.Minute)
	_, err = manager.Touch(ctx, session.ID)
	require.ErrorIs(t, err, ErrSessionExpired)

	// And the session is really gone.
	_, err = manager.Touch(ctx, session.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestTouchRefreshResetsIdleClock(t *testing.T) {
	manager, repo, now := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	session, _, err := manager.Establish(ctx, account, false, model.ClientMeta{})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		*now = now.Add(25 * time.Minute)
		_, err = manager.Touch(ctx, session.ID)
		require.NoError(t, err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	manager, repo, _ := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	session, token, err := manager.Establish(ctx, account, true, model.ClientMeta{UserAgent: "ua", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resumed, err := manager.ResumeFromToken(ctx, token)
	require.NoError(t, err)
	require.NotEqual(t, session.ID, resumed.ID)
	require.Equal(t, session.AccountID, resumed.AccountID)
	require.Equal(t, session.Role, resumed.Role)
	require.Equal(t, session.AccessLevel, resumed.AccessLevel)
}

func TestResumeFailsAtExpiryBoundary(t *testing.T) {
	manager, repo, now := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	_, token, err := manager.Establish(ctx, account, true, model.ClientMeta{})
	require.NoError(t, err)

	// expiry == now is already expired.
	*now = now.Add(90 * 24 * time.Hour)
	_, err = manager.ResumeFromToken(ctx, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestResumeExtendsTokenNearExpiry(t *testing.T) {
	manager, repo, now := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	_, token, err := manager.Establish(ctx, account, true, model.ClientMeta{})
	require.NoError(t, err)

	// Six days before expiry: inside the refresh window.
	*now = now.Add(84 * 24 * time.Hour)
	_, err = manager.ResumeFromToken(ctx, token)
	require.NoError(t, err)

	// Ninety more days still works because the expiry was pushed out.
	*now = now.Add(89 * 24 * time.Hour)
	_, err = manager.ResumeFromToken(ctx, token)
	require.NoError(t, err)
}

func TestInvalidatedTokenNeverResumes(t *testing.T) {
	manager, repo, _ := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	_, token, err := manager.Establish(ctx, account, true, model.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, manager.InvalidateTokens(ctx, account.ID))
	_, err = manager.ResumeFromToken(ctx, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestIssueReplacesPriorToken(t *testing.T) {
	manager, repo, _ := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	first, err := manager.IssuePersistentToken(ctx, account.ID, model.ClientMeta{})
	require.NoError(t, err)
	second, err := manager.IssuePersistentToken(ctx, account.ID, model.ClientMeta{})
	require.NoError(t, err)

	_, err = manager.ResumeFromToken(ctx, first)
	require.ErrorIs(t, err, ErrTokenInvalid)
	_, err = manager.ResumeFromToken(ctx, second)
	require.NoError(t, err)
}

func TestTokenBelongsTo(t *testing.T) {
	manager, repo, _ := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)
	other := model.Account{ID: "c0c1c2c3-0000-0000-0000-000000000003", SevarthID: "C789", Active: true}
	require.NoError(t, repo.CreateAccount(ctx, other))

	token, err := manager.IssuePersistentToken(ctx, account.ID, model.ClientMeta{})
	require.NoError(t, err)

	ok, err := manager.TokenBelongsTo(ctx, account.ID, token)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = manager.TokenBelongsTo(ctx, other.ID, token)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = manager.TokenBelongsTo(ctx, account.ID, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidateAccountSessionsKeepsCurrent(t *testing.T) {
	manager, repo, _ := newTestManager(t)
	ctx := context.Background()
	account := seedAccount(t, repo)

	current, _, err := manager.Establish(ctx, account, false, model.ClientMeta{})
	require.NoError(t, err)
	stale, _, err := manager.Establish(ctx, account, false, model.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, manager.InvalidateAccountSessions(ctx, account.ID, current.ID))

	_, err = manager.Touch(ctx, current.ID)
	require.NoError(t, err)
	_, err = manager.Touch(ctx, stale.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestInactiveAccountCannotResume(t *testing.T) {
	manager, repo, _ := newTestManager(t)
	ctx := context.Background()
	account := model.Account{ID: "d0d1d2d3-0000-0000-0000-000000000004", SevarthID: "D012", Active: true}
	require.NoError(t, repo.CreateAccount(ctx, account))

	token, err := manager.IssuePersistentToken(ctx, account.ID, model.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, repo.SetAccountActive(ctx, account.ID, false))

	_, err = manager.ResumeFromToken(ctx, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
