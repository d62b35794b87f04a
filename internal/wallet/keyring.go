package wallet

import (
	"errors"
	"fmt"
	"sync"

	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

var (
	ErrKeyUnavailable = errors.New("no signing key for address")
	ErrLocked         = errors.New("keyring is locked")
	ErrSeedMismatch   = errors.New("seed does not match keyring addresses")
)

// BalanceFunc reports the spendable balance of an address.
type BalanceFunc func(types.Address) uint64

// Keyring holds the staking keys derived from one seed. Private keys are
// dropped on Lock and re-derived from the sealed seed on Unlock.
type Keyring struct {
	mu       sync.RWMutex
	addrs    []types.Address
	keys     map[types.Address]*crypto.PrivateKey // nil while locked
	sealed   []byte
	balances BalanceFunc
}

// NewKeyring derives accounts staking keys from seed. The seed is kept only
// in sealed form so the keyring can be unlocked again with password.
func NewKeyring(seed, password []byte, accounts uint32, params EncryptionParams) (*Keyring, error) {
	sealed, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("seal seed: %w", err)
	}
	if accounts == 0 {
		accounts = 1
	}
	kr := &Keyring{sealed: sealed}
	if err := kr.derive(seed, accounts); err != nil {
		return nil, err
	}
	return kr, nil
}

// OpenKeyring unlocks a key file.
func OpenKeyring(path string, password []byte) (*Keyring, error) {
	kf, err := ReadKeyfile(path)
	if err != nil {
		return nil, err
	}
	seed, err := kf.Seed(password)
	if err != nil {
		return nil, err
	}
	defer zero(seed)

	kr := &Keyring{sealed: kf.EncryptedSeed}
	if err := kr.derive(seed, kf.Accounts); err != nil {
		return nil, err
	}
	stored, err := kf.AddressList()
	if err != nil {
		return nil, err
	}
	for i, a := range stored {
		if i >= len(kr.addrs) || kr.addrs[i] != a {
			kr.Lock()
			return nil, fmt.Errorf("%w: index %d", ErrSeedMismatch, i)
		}
	}
	klog.Wallet.Info().Str("file", path).Int("accounts", len(kr.addrs)).Msg("Keyring opened")
	return kr, nil
}

func (kr *Keyring) derive(seed []byte, accounts uint32) error {
	master, err := NewMasterKey(seed)
	if err != nil {
		return err
	}
	keys := make(map[types.Address]*crypto.PrivateKey, accounts)
	addrs := make([]types.Address, 0, accounts)
	for i := uint32(0); i < accounts; i++ {
		hd, err := master.StakingKey(i)
		if err != nil {
			return err
		}
		priv, err := hd.Signer()
		if err != nil {
			return err
		}
		addr := hd.Address()
		keys[addr] = priv
		addrs = append(addrs, addr)
	}
	kr.keys = keys
	kr.addrs = addrs
	return nil
}

// SetBalanceSource installs the balance lookup used by BalanceOf.
func (kr *Keyring) SetBalanceSource(fn BalanceFunc) {
	kr.mu.Lock()
	kr.balances = fn
	kr.mu.Unlock()
}

// BalanceOf returns the spendable balance of addr, 0 without a source.
func (kr *Keyring) BalanceOf(addr types.Address) uint64 {
	kr.mu.RLock()
	fn := kr.balances
	kr.mu.RUnlock()
	if fn == nil {
		return 0
	}
	return fn(addr)
}

// Addresses returns the derived addresses in derivation order.
func (kr *Keyring) Addresses() []types.Address {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	out := make([]types.Address, len(kr.addrs))
	copy(out, kr.addrs)
	return out
}

// Has reports whether addr belongs to this keyring, locked or not.
func (kr *Keyring) Has(addr types.Address) bool {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	for _, a := range kr.addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// PublicKey returns the compressed public key for addr.
func (kr *Keyring) PublicKey(addr types.Address) ([]byte, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	k, err := kr.keyLocked(addr)
	if err != nil {
		return nil, err
	}
	return k.PublicKey(), nil
}

// Sign signs a 32-byte hash with the key of addr.
func (kr *Keyring) Sign(addr types.Address, hash []byte) ([]byte, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	k, err := kr.keyLocked(addr)
	if err != nil {
		return nil, err
	}
	return k.Sign(hash)
}

func (kr *Keyring) keyLocked(addr types.Address) (*crypto.PrivateKey, error) {
	if kr.keys == nil {
		return nil, ErrLocked
	}
	k, ok := kr.keys[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyUnavailable, addr)
	}
	return k, nil
}

// Locked reports whether private keys are currently unavailable.
func (kr *Keyring) Locked() bool {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.keys == nil
}

// Lock zeroes and drops every private key.
func (kr *Keyring) Lock() {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	for _, k := range kr.keys {
		k.Zero()
	}
	kr.keys = nil
}

// Unlock re-derives the private keys from the sealed seed.
func (kr *Keyring) Unlock(password []byte) error {
	seed, err := Decrypt(kr.sealed, password)
	if err != nil {
		return err
	}
	defer zero(seed)

	kr.mu.Lock()
	defer kr.mu.Unlock()
	if kr.keys != nil {
		return nil
	}
	if err := kr.derive(seed, uint32(len(kr.addrs))); err != nil {
		return err
	}
	klog.Wallet.Info().Int("accounts", len(kr.addrs)).Msg("Keyring unlocked")
	return nil
}
