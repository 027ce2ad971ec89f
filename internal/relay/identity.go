package relay

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	xed25519 "golang.org/x/crypto/ed25519"
)

// KeyFormat names the public-key encoding a ClientIdentityGrain holds.
type KeyFormat string

const (
	KeyFormatECDSAP256 KeyFormat = "ECDSA-P256"
	KeyFormatEd25519   KeyFormat = "Ed25519"
)

var (
	ErrIdentityConflict = errors.New("relay: identity already registered with a different key")
	ErrUnsupportedKey   = errors.New("relay: unsupported or malformed public key")
	ErrIdentityNotFound = errors.New("relay: identity has no registered key")
)

// ClientIdentityGrain stores one client's public key for challenge-
// response authentication. Registration is idempotent on an exact
// (key, format) match and rejected on conflict.
type ClientIdentityGrain struct {
	ClientGUID string

	mu         sync.Mutex
	keyDER     []byte
	format     KeyFormat
	ecdsaKey   *ecdsa.PublicKey
	ed25519Key xed25519.PublicKey
}

// NewClientIdentityGrain returns an unregistered identity grain.
func NewClientIdentityGrain(clientGUID string) *ClientIdentityGrain {
	return &ClientIdentityGrain{ClientGUID: clientGUID}
}

// Register validates keyDER as a SubjectPublicKeyInfo of the given
// format and stores it. A second call with the identical (keyDER,
// format) pair is a no-op; any other second call fails.
func (g *ClientIdentityGrain) Register(keyDER []byte, format KeyFormat) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.format != "" {
		if g.format == format && bytes.Equal(g.keyDER, keyDER) {
			return nil
		}
		return ErrIdentityConflict
	}

	parsed, err := x509.ParsePKIXPublicKey(keyDER)
	if err != nil {
		return fmt.Errorf("relay: parse public key: %w", err)
	}

	switch format {
	case KeyFormatECDSAP256:
		pub, ok := parsed.(*ecdsa.PublicKey)
		if !ok || pub.Curve != elliptic.P256() {
			return ErrUnsupportedKey
		}
		g.ecdsaKey = pub
	case KeyFormatEd25519:
		pub, ok := parsed.(xed25519.PublicKey)
		if !ok || len(pub) != xed25519.PublicKeySize {
			return ErrUnsupportedKey
		}
		g.ed25519Key = pub
	default:
		return ErrUnsupportedKey
	}

	g.keyDER = keyDER
	g.format = format
	return nil
}

// Verify checks signature over message using the registered key.
func (g *ClientIdentityGrain) Verify(message, signature []byte) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.format {
	case KeyFormatECDSAP256:
		hash := sha256.Sum256(message)
		return ecdsa.VerifyASN1(g.ecdsaKey, hash[:], signature), nil
	case KeyFormatEd25519:
		return xed25519.Verify(g.ed25519Key, message, signature), nil
	default:
		return false, ErrIdentityNotFound
	}
}

