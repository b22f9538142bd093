package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `user_id::text, email, full_name, password_hash, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.Role, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.FullName, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role = $2 WHERE user_id = $1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return requireAffected(result, "set user role")
}

// GetTutorAccountByEmail loads a user together with its tutor profile.
func (s *PostgresStore) GetTutorAccountByEmail(ctx context.Context, email string) (TutorAccount, error) {
	var account TutorAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT u.user_id::text, u.email, u.full_name, u.password_hash, u.role, u.created_at,
			tp.tutor_id::text, tp.display_name
		FROM users u
		LEFT JOIN tutor_profiles tp ON tp.user_id = u.user_id
		WHERE u.email = $1
	`, email).Scan(
		&account.ID, &account.Email, &account.FullName, &account.PasswordHash, &account.Role, &account.CreatedAt,
		&account.TutorID, &account.DisplayName,
	)
	if err != nil {
		return TutorAccount{}, fmt.Errorf("get tutor account: %w", err)
	}
	return account, nil
}

// EnsureTutorProfile returns the user's tutor id, creating the profile when
// it does not exist yet.
func (s *PostgresStore) EnsureTutorProfile(ctx context.Context, userID, displayName, headline string) (string, error) {
	var tutorID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tutor_profiles (user_id, display_name, headline)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (user_id) DO UPDATE SET headline = EXCLUDED.headline
		RETURNING tutor_id::text
	`, userID, displayName, headline).Scan(&tutorID)
	if err != nil {
		return "", fmt.Errorf("ensure tutor profile: %w", err)
	}
	return tutorID, nil
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}

// IsNotFound reports whether err came from a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
