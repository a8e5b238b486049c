package auth

import (
	"errors"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
)

var ErrEmptyPassword = errors.New("password cannot be empty")

// CryptHasher hashes new passwords with sha512-crypt and verifies against the
// common crypt formats ($1$ md5, $5$ sha256, $6$ sha512), so directories
// migrated from other tools keep working.
type CryptHasher struct{}

func NewCryptHasher() *CryptHasher { return &CryptHasher{} }

func (*CryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	// Empty salt lets the crypter generate a random one.
	return sha512_crypt.New().Generate([]byte(plaintext), nil)
}

func (*CryptHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	crypters := []crypt.Crypter{
		sha512_crypt.New(),
		sha256_crypt.New(),
		md5_crypt.New(),
	}
	for _, c := range crypters {
		if err := c.Verify(hash, []byte(plaintext)); err == nil {
			return true
		}
	}
	return false
}
