package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"metalearn/api/internal/session"
)

var _ session.Store = (*PostgresStore)(nil)

func (s *PostgresStore) CreateSession(ctx context.Context, record session.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (id, user_id, role, jwt_id, refresh_token, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.UserID, record.Role, record.JWTID, record.RefreshTokenHash, record.ExpiresAt, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (session.Record, error) {
	var record session.Record
	err := s.db.QueryRowContext(ctx, `
		SELECT id::text, user_id::text, role, jwt_id::text, refresh_token, expires_at, created_at, updated_at
		FROM user_sessions
		WHERE id = $1
	`, sessionID).Scan(
		&record.ID, &record.UserID, &record.Role, &record.JWTID, &record.RefreshTokenHash,
		&record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, session.ErrNotFound
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("get session: %w", err)
	}
	return record, nil
}

// RotateSession updates the row only while it still holds previousJWTID.
func (s *PostgresStore) RotateSession(ctx context.Context, sessionID, previousJWTID string, next session.Record) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET jwt_id = $3, refresh_token = $4, expires_at = $5, updated_at = $6
		WHERE id = $1 AND jwt_id = $2
	`, sessionID, previousJWTID, next.JWTID, next.RefreshTokenHash, next.ExpiresAt, next.UpdatedAt)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if affected == 0 {
		return session.ErrConflict
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions removes sessions whose refresh token has lapsed.
func (s *PostgresStore) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return result.RowsAffected()
}
