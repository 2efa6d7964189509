package graph

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/cuemby/reconnect/pkg/types"
)

// GenerateKeyPair creates a new X25519 graph key pair
func GenerateKeyPair() (KeyPair, error) {
	secret := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(secret); err != nil {
		return KeyPair{}, fmt.Errorf("failed to read random bytes: %w", err)
	}

	public, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to derive public key: %w", err)
	}

	return KeyPair{
		KeyType:   types.KeyTypeX25519,
		PublicKey: public,
		SecretKey: secret,
	}, nil
}

// Validate checks that the key pair is X25519 and that the public key
// belongs to the secret key
func (k KeyPair) Validate() error {
	if k.KeyType != types.KeyTypeX25519 {
		return fmt.Errorf("unsupported key type %q", k.KeyType)
	}
	if len(k.SecretKey) != curve25519.ScalarSize || len(k.PublicKey) != curve25519.PointSize {
		return fmt.Errorf("invalid X25519 key length")
	}

	public, err := curve25519.X25519(k.SecretKey, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("invalid X25519 secret key: %w", err)
	}
	if !bytes.Equal(public, k.PublicKey) {
		return fmt.Errorf("public key does not match secret key")
	}
	return nil
}

// ProviderKeyPair returns the hex wire form used by providers
func (k KeyPair) ProviderKeyPair() types.ProviderKeyPair {
	return types.ProviderKeyPair{
		KeyType:    k.KeyType,
		PublicKey:  "0x" + hex.EncodeToString(k.PublicKey),
		PrivateKey: "0x" + hex.EncodeToString(k.SecretKey),
	}
}

// FromProviderKeyPair decodes a provider supplied key pair. Only X25519 is
// accepted.
func FromProviderKeyPair(p types.ProviderKeyPair) (KeyPair, error) {
	if p.KeyType != types.KeyTypeX25519 {
		return KeyPair{}, fmt.Errorf("unsupported key type %q", p.KeyType)
	}
	public, secret, err := p.Decode()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{KeyType: p.KeyType, PublicKey: public, SecretKey: secret}, nil
}
