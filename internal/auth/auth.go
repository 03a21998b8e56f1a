// Package auth implements document password checks and the two legacy
// credential carriers, HTTP basic auth and the base64 token query
// parameter.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// HashPassword returns the lowercase hex SHA-256 of the password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))

	return hex.EncodeToString(sum[:])
}

// VerifyPassword reports whether password hashes to expectedHash. The
// comparison is constant time.
func VerifyPassword(password, expectedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashPassword(password)), []byte(expectedHash)) == 1
}

// Authorized reports whether the provided password grants access to a
// document with the stored hash. Documents without a hash are open; a
// protected document rejects absent passwords.
func Authorized(storedHash string, provided *string) bool {
	if storedHash == "" {
		return true
	}
	if provided == nil {
		return false
	}

	return VerifyPassword(*provided, storedHash)
}

// PasswordFromBasicHeader extracts the password from an Authorization
// header. The header must be Basic and its username must equal the
// document slug, otherwise nothing is extracted.
func PasswordFromBasicHeader(header, slug string) *string {
	scheme, payload, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return nil
	}

	user, pass, ok := decodeUserPass(payload)
	if !ok || user != slug {
		return nil
	}

	return &pass
}

// PasswordFromToken extracts the password from a base64 "user:password"
// token whose user equals the document slug.
func PasswordFromToken(token, slug string) *string {
	user, pass, ok := decodeUserPass(token)
	if !ok || user != slug {
		return nil
	}

	return &pass
}

// decodeUserPass decodes standard base64 and splits at the first colon.
// A payload without a colon is a bare username with an empty password.
func decodeUserPass(payload string) (user, pass string, ok bool) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil || !utf8.Valid(decoded) {
		return "", "", false
	}

	if u, p, found := strings.Cut(string(decoded), ":"); found {
		return u, p, true
	}

	return string(decoded), "", true
}
