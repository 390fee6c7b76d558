package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/wattleglen/authrelay/internal/identity/domain"
	"github.com/wattleglen/authrelay/internal/identity/store"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, rec domain.RefreshTokenRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, jti, token_hash, audience, expires_at, used_at, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.JTI, rec.TokenHash, rec.Audience,
		rec.ExpiresAt, mapOptionalTime(rec.UsedAt), mapOptionalTime(rec.RevokedAt), rec.CreatedAt,
	)
	return mapConflict(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByJTI(ctx context.Context, jti string) (domain.RefreshTokenRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, jti, token_hash, audience, expires_at, used_at, revoked_at, created_at
		FROM refresh_tokens WHERE jti = ?`, jti)

	var (
		rec       domain.RefreshTokenRecord
		usedAt    sql.NullTime
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.JTI, &rec.TokenHash, &rec.Audience,
		&rec.ExpiresAt, &usedAt, &revokedAt, &rec.CreatedAt,
	)
	if err != nil {
		return domain.RefreshTokenRecord{}, mapNotFound(err)
	}
	rec.UsedAt = mapNullTimePtr(usedAt)
	rec.RevokedAt = mapNullTimePtr(revokedAt)
	return rec, nil
}

// MarkRefreshTokenUsed is a compare-and-set: the WHERE clause only matches a
// record that is still unspent, so a second caller racing on the same jti sees
// zero rows affected and gets ErrNotFound. That is the reuse signal.
func (r *refreshTokensRepo) MarkRefreshTokenUsed(ctx context.Context, jti string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET used_at = ?
		WHERE jti = ? AND used_at IS NULL AND revoked_at IS NULL`,
		time.Now().UTC(), jti)
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

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = ?
		WHERE user_id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), userID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now().UTC())
	return err
}
