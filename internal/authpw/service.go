// Package authpw provides email/password accounts on scrypt hashes.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"metalearn/api/internal/rbac"
	"metalearn/api/internal/store"
	"metalearn/api/internal/util"
)

const MinPasswordLength = 8

var (
	ErrMissingCredentials = errors.New("Email and password are required")
	ErrInvalidCredentials = errors.New("Wrong email or wrong password")
	ErrEmailTaken         = errors.New("Email already registered")
	ErrWeakPassword       = fmt.Errorf("Password must be at least %d characters", MinPasswordLength)
	ErrMissingName        = errors.New("Full name is required")
)

// UserStore is the slice of the store the account service needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

type SignUpRequest struct {
	Email    string
	Password string
	FullName string
}

// NormalizeEmail trims and lowercases an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates a learner account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := NormalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || req.Password == "" {
		return store.User{}, ErrMissingCredentials
	}
	if fullName == "" {
		return store.User{}, ErrMissingName
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return store.User{}, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}

	user := store.User{
		ID:           util.NewID(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         string(rbac.RoleLearner),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn returns the user for valid credentials. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrMissingCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
