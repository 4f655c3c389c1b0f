package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"

	"librarycatalog/internal/catalog"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// SharedPassword accepts one password for every user. Only its salted Argon2id hash
// is kept in memory.
type SharedPassword struct {
	salt []byte
	hash []byte
}

// NewSharedPassword hashes password with a fresh random salt.
func NewSharedPassword(password string) (*SharedPassword, error) {
	if password == "" {
		return nil, errors.New("auth: login password is empty")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return &SharedPassword{salt: salt, hash: derive(password, salt)}, nil
}

// Verify reports whether password matches. The user is accepted for interface
// compatibility with per user checkers.
func (p *SharedPassword) Verify(_ *catalog.User, password string) bool {
	return subtle.ConstantTimeCompare(derive(password, p.salt), p.hash) == 1
}

func derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
