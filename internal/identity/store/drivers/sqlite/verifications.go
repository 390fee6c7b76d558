package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/wattleglen/authrelay/internal/identity/domain"
	"github.com/wattleglen/authrelay/internal/identity/store"
)

type verificationsRepo struct {
	db dbtx
}

func (r *verificationsRepo) CreateVerification(ctx context.Context, v domain.EmailVerification) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_verifications (id, user_id, code_hash, expires_at, consumed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.UserID, v.CodeHash, v.ExpiresAt, mapOptionalTime(v.ConsumedAt), v.CreatedAt,
	)
	return mapConflict(err)
}

func (r *verificationsRepo) GetActiveVerification(ctx context.Context, userID string) (domain.EmailVerification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, code_hash, expires_at, consumed_at, created_at
		FROM email_verifications
		WHERE user_id = ? AND consumed_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1`, userID, time.Now().UTC())

	var (
		v          domain.EmailVerification
		consumedAt sql.NullTime
	)
	err := row.Scan(&v.ID, &v.UserID, &v.CodeHash, &v.ExpiresAt, &consumedAt, &v.CreatedAt)
	if err != nil {
		return domain.EmailVerification{}, mapNotFound(err)
	}
	v.ConsumedAt = mapNullTimePtr(consumedAt)
	return v, nil
}

func (r *verificationsRepo) ConsumeVerification(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_verifications SET consumed_at = ?
		WHERE id = ? AND consumed_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *verificationsRepo) DeleteExpiredVerifications(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM email_verifications WHERE expires_at < ?`, time.Now().UTC())
	return err
}
