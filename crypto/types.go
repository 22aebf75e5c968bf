package crypto

import (
	"crypto"
	"errors"
)

// KeyType represents the type of cryptographic key.
type KeyType string

const (
	// KeyTypeEd25519 signs identity assertions (person/instance signing keys).
	KeyTypeEd25519 KeyType = "Ed25519"
	// KeyTypeX25519 performs ECDH key agreement (person/instance encryption keys).
	KeyTypeX25519 KeyType = "X25519"
)

// KeyPair represents a cryptographic key pair.
type KeyPair interface {
	// PublicKey returns the public key
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key
	PrivateKey() crypto.PrivateKey

	// Type returns the key type
	Type() KeyType

	// Sign signs the given message
	Sign(message []byte) ([]byte, error)

	// Verify verifies the signature
	Verify(message, signature []byte) error

	// ID returns a unique identifier for this key pair
	ID() string
}

// Common errors
var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrSignNotSupported   = errors.New("sign not supported for this key type")
	ErrVerifyNotSupported = errors.New("verify not supported for this key type")
)
