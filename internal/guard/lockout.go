package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/decyphers/platform/internal/domain"
)

const (
	MaxAttempts   = 5
	LockoutWindow = 15 * time.Minute
)

// AttemptStore persists login attempts.
type AttemptStore interface {
	Record(ctx context.Context, email, method, ip string, success bool) error
	CountFailuresSince(ctx context.Context, email, method string, since time.Time) (int, error)
}

// Lockout blocks an email after MaxAttempts failed logins inside
// LockoutWindow.
type Lockout struct {
	store  AttemptStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLockout creates a lockout guard. A nil store disables it.
func NewLockout(store AttemptStore, logger *slog.Logger) *Lockout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lockout{store: store, logger: logger, now: time.Now}
}

// Record stores an attempt. Failures to record are logged, not returned.
func (l *Lockout) Record(ctx context.Context, email, method, ip string, success bool) {
	if l.store == nil {
		return
	}
	if err := l.store.Record(ctx, email, method, ip, success); err != nil {
		l.logger.Warn("record login attempt failed", "method", method, "error", err)
	}
}

// Check returns ErrAccountLocked when the email has too many recent
// failures. It fails open when the store is unavailable.
func (l *Lockout) Check(ctx context.Context, email, method string) error {
	if l.store == nil {
		return nil
	}
	count, err := l.store.CountFailuresSince(ctx, email, method, l.now().Add(-LockoutWindow))
	if err != nil {
		l.logger.Warn("lockout check failed, allowing login", "method", method, "error", err)
		return nil
	}
	if count >= MaxAttempts {
		return domain.ErrAccountLocked("too many failed login attempts, try again later")
	}
	return nil
}
