package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/bsimic/blogbox/pkg"
)

// Checker validates the shared secret callers must present for
// mutating operations. This is a capability check, not user
// authentication - there are no accounts or tokens.
type Checker interface {
	SecretValid(provided string) bool
}

var _ Checker = (*SecretChecker)(nil)

// SecretChecker holds the configured secret. The secret can be given
// either as plaintext (compared in constant time) or as a bcrypt hash
// (recognized by the $2 prefix), so the plaintext never has to live
// in the environment.
type SecretChecker struct {
	secret string
	hashed bool
}

func NewSecretChecker(secret string) *SecretChecker {
	return &SecretChecker{
		secret: secret,
		hashed: strings.HasPrefix(secret, "$2a$") || strings.HasPrefix(secret, "$2b$"),
	}
}

func (c *SecretChecker) SecretValid(provided string) bool {
	if c.secret == "" || provided == "" {
		return false
	}
	if c.hashed {
		return pkg.CheckSecretHash(provided, c.secret)
	}
	return subtle.ConstantTimeCompare([]byte(c.secret), []byte(provided)) == 1
}
