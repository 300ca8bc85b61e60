// Package audit writes the security trail required for every auth
// outcome. Entries never contain passwords, codes, or token values.
package audit

import "go.uber.org/zap"

type Logger struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit")}
}

func (l *Logger) LoginFailed(sevarthID, reason string) {
	l.event("login_failed", zap.String("sevarth_id", sevarthID), zap.String("reason", reason))
}

func (l *Logger) LoginSucceeded(accountID, sevarthID string, stepUp bool) {
	l.event("login_succeeded",
		zap.String("account_id", accountID),
		zap.String("sevarth_id", sevarthID),
		zap.Bool("step_up", stepUp),
	)
}

func (l *Logger) OTPIssued(accountID, purpose string) {
	l.event("otp_issued", zap.String("account_id", accountID), zap.String("purpose", purpose))
}

func (l *Logger) OTPRejected(accountID, purpose, reason string) {
	l.event("otp_rejected",
		zap.String("account_id", accountID),
		zap.String("purpose", purpose),
		zap.String("reason", reason),
	)
}

func (l *Logger) LockedOut(accountID, purpose string, remainingSeconds int) {
	l.event("locked_out",
		zap.String("account_id", accountID),
		zap.String("purpose", purpose),
		zap.Int("remaining_seconds", remainingSeconds),
	)
}

func (l *Logger) PasswordChanged(accountID string) {
	l.event("password_changed", zap.String("account_id", accountID))
}

func (l *Logger) PasswordReset(accountID string) {
	l.event("password_reset", zap.String("account_id", accountID))
}

func (l *Logger) LoggedOut(accountID string) {
	l.event("logged_out", zap.String("account_id", accountID))
}

func (l *Logger) AccountCreated(accountID, sevarthID string) {
	l.event("account_created", zap.String("account_id", accountID), zap.String("sevarth_id", sevarthID))
}

func (l *Logger) event(name string, fields ...zap.Field) {
	l.log.Info(name, fields...)
}
