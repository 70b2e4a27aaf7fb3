package crypto

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// Credentials are the configured producer username and password.
// The zero value never matches anything.
type Credentials struct {
	Username string
	Password string
}

// Configured reports whether both values are set.
func (c Credentials) Configured() bool {
	return c.Username != "" && c.Password != ""
}

// Match reports whether username and password equal the configured pair.
// Both sides are digested first so the comparison time does not depend on
// input length or on where the first differing byte is.
func (c Credentials) Match(username, password string) bool {
	if !c.Configured() {
		return false
	}
	userOK := digestEqual(username, c.Username)
	passOK := digestEqual(password, c.Password)
	return userOK && passOK
}

func digestEqual(a, b string) bool {
	da := blake2b.Sum256([]byte(a))
	db := blake2b.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
