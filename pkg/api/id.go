package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	userIDPrefix   = "usr_"
	tenantIDPrefix = "tnt_"
	keyIDPrefix    = "key_"
)

var (
	userIDPattern   = regexp.MustCompile(`^usr_[a-zA-Z0-9]{24}$`)
	tenantIDPattern = regexp.MustCompile(`^tnt_[a-zA-Z0-9]{24}$`)
	keyIDPattern    = regexp.MustCompile(`^key_[a-zA-Z0-9]{24}$`)
)

// NewUserID generates a new user ID with the "usr_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewUserID() string {
	return userIDPrefix + randomAlphanumeric(idLength)
}

// NewTenantID generates a new tenant ID with the "tnt_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewTenantID() string {
	return tenantIDPrefix + randomAlphanumeric(idLength)
}

// NewKeyID generates a new API key record ID with the "key_" prefix
// followed by 24 cryptographically random alphanumeric characters.
// This identifies the key record; the key material itself is generated
// separately and never stored.
func NewKeyID() string {
	return keyIDPrefix + randomAlphanumeric(idLength)
}

// ValidateUserID checks whether the given string is a valid user ID.
func ValidateUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// ValidateTenantID checks whether the given string is a valid tenant ID.
func ValidateTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// ValidateKeyID checks whether the given string is a valid API key record ID.
func ValidateKeyID(id string) bool {
	return keyIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
