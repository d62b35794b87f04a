package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

const keyfileVersion = 1

var (
	ErrKeyfileExists  = errors.New("key file already exists")
	ErrKeyfileVersion = errors.New("unsupported key file version")
)

// Keyfile is the on-disk form of a staking wallet: the sealed seed plus the
// public addresses it derives, so they can be listed without the password.
type Keyfile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	EncryptedSeed []byte    `json:"encrypted_seed"`
	Accounts      uint32    `json:"accounts"`
	Addresses     []string  `json:"addresses"`
}

// CreateKeyfile seals seed under password and writes it to path. It refuses
// to overwrite an existing file.
func CreateKeyfile(path string, seed, password []byte, accounts uint32, params EncryptionParams) (*Keyfile, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyfileExists, path)
	}
	if accounts == 0 {
		accounts = 1
	}
	addrs, err := deriveAddresses(seed, accounts)
	if err != nil {
		return nil, err
	}
	sealed, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("seal seed: %w", err)
	}

	kf := &Keyfile{
		Version:       keyfileVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: sealed,
		Accounts:      accounts,
	}
	for _, a := range addrs {
		kf.Addresses = append(kf.Addresses, a.Hex())
	}
	if err := kf.write(path); err != nil {
		return nil, err
	}
	return kf, nil
}

// ReadKeyfile loads a key file without decrypting it.
func ReadKeyfile(path string) (*Keyfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf Keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if kf.Version != keyfileVersion {
		return nil, fmt.Errorf("%w: %d", ErrKeyfileVersion, kf.Version)
	}
	return &kf, nil
}

// Seed decrypts the stored seed.
func (kf *Keyfile) Seed(password []byte) ([]byte, error) {
	return Decrypt(kf.EncryptedSeed, password)
}

// AddressList parses the stored public addresses.
func (kf *Keyfile) AddressList() ([]types.Address, error) {
	out := make([]types.Address, 0, len(kf.Addresses))
	for _, s := range kf.Addresses {
		a, err := types.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("key file address %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (kf *Keyfile) write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func deriveAddresses(seed []byte, accounts uint32) ([]types.Address, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	addrs := make([]types.Address, 0, accounts)
	for i := uint32(0); i < accounts; i++ {
		k, err := master.StakingKey(i)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, k.Address())
	}
	return addrs, nil
}
