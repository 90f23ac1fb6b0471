package repository

import (
	"context"
	"time"
)

// PgLoginAttemptRepository implements LoginAttemptRepository using pgx.
type PgLoginAttemptRepository struct{}

// NewPgLoginAttemptRepository creates a new PgLoginAttemptRepository.
func NewPgLoginAttemptRepository() *PgLoginAttemptRepository {
	return &PgLoginAttemptRepository{}
}

func (r *PgLoginAttemptRepository) Record(ctx context.Context, db DBTX, email, method, ip string, success bool) error {
	_, err := db.Exec(ctx, `
		INSERT INTO login_attempts (email, method, ip_address, success)
		VALUES (lower($1), $2, $3, $4)`,
		email, method, ip, success)
	return err
}

func (r *PgLoginAttemptRepository) CountFailuresSince(ctx context.Context, db DBTX, email, method string, since time.Time) (int, error) {
	var count int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = lower($1) AND method = $2 AND success = false
		  AND created_at > $3`,
		email, method, since).Scan(&count)
	return count, err
}
