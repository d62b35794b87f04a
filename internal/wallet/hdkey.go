package wallet

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// Staking keys live at m/44'/8888'/0'/0/index.
const (
	PurposeBIP44 = bip32.FirstHardenedChild + 44
	CoinType     = bip32.FirstHardenedChild + 8888

	// StakingAccount is the only account the keyring derives from.
	StakingAccount = bip32.FirstHardenedChild + 0

	// ChangeExternal is the non-change branch; staking keys never use change.
	ChangeExternal = 0
)

// ErrPublicOnly is returned when a private key is requested from a neutered key.
var ErrPublicOnly = errors.New("public-only key")

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives one level down. Add bip32.FirstHardenedChild for hardened.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	cur := k
	for _, idx := range indices {
		next, err := cur.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// StakingKey derives the staking key with the given index.
func (k *HDKey) StakingKey(index uint32) (*HDKey, error) {
	return k.DerivePath(PurposeBIP44, CoinType, StakingAccount, ChangeExternal, index)
}

// PrivateKeyBytes returns the raw 32-byte private key, or nil for a public key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 pads private keys to 33 bytes with a leading zero.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Signer returns the schnorr signing key.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, ErrPublicOnly
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// Address is the account address of this key.
func (k *HDKey) Address() types.Address {
	return crypto.AddressFromPubKey(k.PublicKeyBytes())
}

func (k *HDKey) IsPrivate() bool { return k.key.IsPrivate }

// Depth returns the derivation depth, 0 for the master key.
func (k *HDKey) Depth() uint8 { return k.key.Depth }

// Neuter returns a public-only copy.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
