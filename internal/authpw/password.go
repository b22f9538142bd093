package authpw

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"metalearn/api/internal/util"
)

const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	hashPrefix   = "scrypt"
)

// HashPassword returns "scrypt:<salt>:<hex key>". The salt is stored as
// text and its bytes are what scrypt consumes.
func HashPassword(password string) (string, error) {
	salt := util.RandomHex(16)
	derived, err := derive(password, salt)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hashPrefix + ":" + salt + ":" + derived, nil
}

// VerifyPassword reports whether password matches a stored scrypt hash.
// Empty, foreign and malformed hashes never match.
func VerifyPassword(password, stored string) bool {
	if !strings.HasPrefix(stored, hashPrefix+":") {
		return false
	}
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return false
	}
	expected, err := hex.DecodeString(parts[2])
	if err != nil || len(expected) != scryptKeyLen {
		return false
	}
	derived, err := scrypt.Key([]byte(password), []byte(parts[1]), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, derived) == 1
}

func derive(password, salt string) (string, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
