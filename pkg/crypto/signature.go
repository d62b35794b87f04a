package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Key and signature sizes for validator seals.
const (
	PrivateKeySize = 32
	PublicKeySize  = secp256k1.PubKeyBytesLenCompressed
	SignatureSize  = schnorr.SignatureSize
)

// PrivateKey is a validator signing key. Stakers seal block headers with it
// and the same seal is what double-signing evidence is checked against.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random validator key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// Sign produces a Schnorr signature over a 32-byte hash.
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != types.HashSize {
		return nil, fmt.Errorf("hash must be %d bytes, got %d", types.HashSize, len(hash))
	}
	sig, err := schnorr.Sign(pk.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// SignHash seals a header or evidence hash.
func (pk *PrivateKey) SignHash(h types.Hash) ([]byte, error) {
	return pk.Sign(h[:])
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Address returns the staking address controlled by this key.
func (pk *PrivateKey) Address() types.Address {
	return AddressFromPubKey(pk.PublicKey())
}

// Zero wipes the key material.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// ParsePublicKey checks that b is a valid compressed key on the curve and
// returns the address it controls.
func ParsePublicKey(b []byte) (types.Address, error) {
	if len(b) != PublicKeySize {
		return types.Address{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return types.Address{}, fmt.Errorf("parse public key: %w", err)
	}
	return AddressFromPubKey(b), nil
}

// VerifySignature checks a Schnorr signature against a 32-byte hash
// and a compressed public key. Returns false on any error.
func VerifySignature(hash, signature, publicKey []byte) bool {
	if len(hash) != types.HashSize || len(signature) != SignatureSize {
		return false
	}
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}
