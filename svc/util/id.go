package util

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
)

const (
	PasteIDBytes     = 8
	DeleteTokenBytes = 16
)

// RandomToken returns n bytes from crypto/rand, base64url encoded without padding.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func NewPasteID() (string, error) {
	return RandomToken(PasteIDBytes)
}

func NewDeleteToken() (string, error) {
	return RandomToken(DeleteTokenBytes)
}
