package auth

import (
	"crypto"
	"crypto/rand"
	_ "crypto/sha256"
	"encoding/base64"
	"fmt"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
)

// RawTokenBytes is the entropy of a refresh token secret.
const RawTokenBytes = 32

type Fingerprinter struct {
	hash crypto.Hash
}

func NewFingerprinter() (*Fingerprinter, error) {
	return newFingerprinter(crypto.SHA256)
}

func newFingerprinter(h crypto.Hash) (*Fingerprinter, error) {
	if !h.Available() {
		return nil, fmt.Errorf("%w: %s not linked", domainauth.ErrHashingUnavailable, h)
	}
	return &Fingerprinter{hash: h}, nil
}

// Fingerprint returns the unpadded base64url digest of secret. Output length
// is fixed for a given hash.
func (f *Fingerprinter) Fingerprint(secret string) string {
	h := f.hash.New()
	h.Write([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func GenerateRawToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
