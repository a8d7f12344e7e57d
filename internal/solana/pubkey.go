package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the byte length of a Solana account address.
const PublicKeyLength = 32

// DecodePublicKey decodes a base58 account address and checks its length.
func DecodePublicKey(address string) ([]byte, error) {
	if address == "" {
		return nil, fmt.Errorf("empty address")
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode base58 address %q: %w", address, err)
	}
	if len(raw) != PublicKeyLength {
		return nil, fmt.Errorf("address %q decodes to %d bytes, want %d", address, len(raw), PublicKeyLength)
	}
	return raw, nil
}

// IsOnCurve reports whether the address is a valid ed25519 point, i.e. an
// account that can have a private key. Program-derived addresses are off-curve.
func IsOnCurve(address string) (bool, error) {
	raw, err := DecodePublicKey(address)
	if err != nil {
		return false, err
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil, nil
}
