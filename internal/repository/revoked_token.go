package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PgRevokedTokenRepository implements RevokedTokenRepository using pgx.
type PgRevokedTokenRepository struct{}

// NewPgRevokedTokenRepository creates a new PgRevokedTokenRepository.
func NewPgRevokedTokenRepository() *PgRevokedTokenRepository {
	return &PgRevokedTokenRepository{}
}

func (r *PgRevokedTokenRepository) Revoke(ctx context.Context, db DBTX, jti string, userID uuid.UUID, expiresAt time.Time) error {
	_, err := db.Exec(ctx,
		`INSERT INTO revoked_tokens (jti, user_id, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, userID, expiresAt)
	return err
}

func (r *PgRevokedTokenRepository) IsRevoked(ctx context.Context, db DBTX, jti string) (bool, error) {
	var revoked bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&revoked)
	return revoked, err
}

func (r *PgRevokedTokenRepository) PurgeExpired(ctx context.Context, db DBTX, now time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
