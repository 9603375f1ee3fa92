package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	PasswordIterations = 120000
	PasswordSaltLen    = 16
	PasswordKeyLen     = 32

	// maxIterations bounds the work a stored record can demand from VerifyPassword.
	maxIterations = 10_000_000

	recordSeparator = "$"
)

// HashPassword derives a PBKDF2-SHA256 record of the form
// "<iterations>$<hex salt>$<hex key>". The KDF is fed the hex text of the
// salt, not the decoded bytes; existing records depend on that.
func HashPassword(password string) (string, error) {
	salt := make([]byte, PasswordSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	encodedSalt := hex.EncodeToString(salt)

	key := pbkdf2.Key([]byte(password), []byte(encodedSalt), PasswordIterations, PasswordKeyLen, sha256.New)

	return strings.Join([]string{
		strconv.Itoa(PasswordIterations),
		encodedSalt,
		hex.EncodeToString(key),
	}, recordSeparator), nil
}

// VerifyPassword reports whether password matches record. Malformed records
// are a mismatch, never an error.
func VerifyPassword(password string, record string) bool {
	parts := strings.Split(record, recordSeparator)
	if len(parts) != 3 {
		return false
	}

	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 || iterations > maxIterations {
		return false
	}

	encodedSalt := parts[1]
	if encodedSalt == "" {
		return false
	}
	if _, err := hex.DecodeString(encodedSalt); err != nil {
		return false
	}

	expected, err := hex.DecodeString(parts[2])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := pbkdf2.Key([]byte(password), []byte(encodedSalt), iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(expected, computed) == 1
}
