package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/decyphers/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// UserRepository provides access to users.
type UserRepository interface {
	// FindByID returns a user by ID, or nil if not found.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.User, error)

	// FindByEmail returns a user by email, or nil if not found.
	FindByEmail(ctx context.Context, db DBTX, email string) (*domain.User, error)

	// FindByFirebaseUID returns the user bound to a Firebase uid, or nil.
	FindByFirebaseUID(ctx context.Context, db DBTX, uid string) (*domain.User, error)

	// Create inserts a new user. A duplicate email or uid returns ErrDuplicate.
	Create(ctx context.Context, db DBTX, user *domain.User) error

	// BindFirebaseUID sets the uid on a user that has none. It reports false
	// when the user was already bound.
	BindFirebaseUID(ctx context.Context, db DBTX, id uuid.UUID, uid string) (bool, error)
}

// RevokedTokenRepository tracks logged-out session tokens.
type RevokedTokenRepository interface {
	// Revoke records a token id until its expiry.
	Revoke(ctx context.Context, db DBTX, jti string, userID uuid.UUID, expiresAt time.Time) error

	// IsRevoked reports whether a token id was revoked.
	IsRevoked(ctx context.Context, db DBTX, jti string) (bool, error)

	// PurgeExpired deletes revocations whose token has expired anyway.
	PurgeExpired(ctx context.Context, db DBTX, now time.Time) (int64, error)
}

// LoginAttemptRepository records login attempts for lockout.
type LoginAttemptRepository interface {
	// Record inserts an attempt.
	Record(ctx context.Context, db DBTX, email, method, ip string, success bool) error

	// CountFailuresSince counts failed attempts for an email after since.
	CountFailuresSince(ctx context.Context, db DBTX, email, method string, since time.Time) (int, error)
}
