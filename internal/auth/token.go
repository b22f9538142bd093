package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenLeeway is the clock skew tolerated past an access token's exp.
const AccessTokenLeeway = 10 * time.Second

const refreshTokenType = "refresh"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type AccessClaims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	SessionID string `json:"sid"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	UserID    string
	SessionID string
	Role      string
	JTI       string
}

// Issuer signs and verifies the access/refresh token pair. The two token
// kinds use separate secrets so one cannot be replayed as the other.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// WithClock replaces the issuer's time source; used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) IssueAccess(userID, sessionID, jwtID, role string) (string, time.Time, error) {
	issuedAt := i.now()
	claims := AccessClaims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jwtID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (i *Issuer) IssueRefresh(userID, sessionID, jwtID string) (string, time.Time, error) {
	issuedAt := i.now()
	claims := RefreshClaims{
		SessionID: sessionID,
		TokenType: refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jwtID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.refreshTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (i *Issuer) ParseAccess(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := i.parse(token, i.accessSecret, &claims, AccessTokenLeeway); err != nil {
		return AccessClaims{}, err
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) ParseRefresh(token string) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := i.parse(token, i.refreshSecret, &claims, 0); err != nil {
		return RefreshClaims{}, err
	}
	if claims.TokenType != refreshTokenType || claims.Subject == "" || claims.SessionID == "" {
		return RefreshClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) parse(token string, secret []byte, claims jwt.Claims, leeway time.Duration) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if leeway > 0 {
		options = append(options, jwt.WithLeeway(leeway))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
