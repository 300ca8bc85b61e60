package session

import (
	"context"
	"time"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

// Store holds ephemeral session state. Implementations must index
// sessions by account so a password change can drop every other session
// the account holds.
type Store interface {
	Put(ctx context.Context, session model.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (model.Session, bool, error)
	Delete(ctx context.Context, sessionID string) error
	// DeleteAccountSessions removes every session belonging to the
	// account except the one named by keep (empty keeps nothing).
	DeleteAccountSessions(ctx context.Context, accountID, keep string) error
}
