package wallet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := SeedFromMnemonic(vectorMnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

func TestNewMasterKey(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	if !master.IsPrivate() || master.Depth() != 0 {
		t.Errorf("master: private=%v depth=%d", master.IsPrivate(), master.Depth())
	}
	if n := len(master.PrivateKeyBytes()); n != 32 {
		t.Errorf("private key length = %d, want 32", n)
	}
	if n := len(master.PublicKeyBytes()); n != 33 {
		t.Errorf("public key length = %d, want 33", n)
	}

	for _, size := range []int{0, 32, 65} {
		if _, err := NewMasterKey(make([]byte, size)); err == nil {
			t.Errorf("NewMasterKey(%d bytes) should fail", size)
		}
	}
}

func TestStakingKey(t *testing.T) {
	master, _ := NewMasterKey(testSeed(t))

	k0, err := master.StakingKey(0)
	if err != nil {
		t.Fatalf("StakingKey(0) error: %v", err)
	}
	if k0.Depth() != 5 {
		t.Errorf("depth = %d, want 5", k0.Depth())
	}

	manual, _ := master.DerivePath(bip32.FirstHardenedChild+44, bip32.FirstHardenedChild+8888,
		bip32.FirstHardenedChild, 0, 0)
	if !bytes.Equal(k0.PrivateKeyBytes(), manual.PrivateKeyBytes()) {
		t.Error("StakingKey(0) should equal m/44'/8888'/0'/0/0")
	}

	k1, _ := master.StakingKey(1)
	if k0.Address() == k1.Address() {
		t.Error("different indices should give different addresses")
	}
	again, _ := master.StakingKey(0)
	if again.Address() != k0.Address() {
		t.Error("derivation should be deterministic")
	}
}

func TestNeuter(t *testing.T) {
	master, _ := NewMasterKey(testSeed(t))
	pub := master.Neuter()

	if pub.IsPrivate() || pub.PrivateKeyBytes() != nil {
		t.Error("neutered key should carry no private key")
	}
	if !bytes.Equal(pub.PublicKeyBytes(), master.PublicKeyBytes()) {
		t.Error("neutered key should keep the public key")
	}
	if _, err := pub.Signer(); !errors.Is(err, ErrPublicOnly) {
		t.Errorf("Signer() error = %v, want ErrPublicOnly", err)
	}

	privChild, _ := master.DeriveChild(0)
	pubChild, err := pub.DeriveChild(0)
	if err != nil {
		t.Fatalf("public DeriveChild error: %v", err)
	}
	if !bytes.Equal(privChild.PublicKeyBytes(), pubChild.PublicKeyBytes()) {
		t.Error("public derivation should match private derivation")
	}
}

func TestSigner(t *testing.T) {
	master, _ := NewMasterKey(testSeed(t))
	key, _ := master.StakingKey(0)

	signer, err := key.Signer()
	if err != nil {
		t.Fatalf("Signer() error: %v", err)
	}
	if crypto.AddressFromPubKey(signer.PublicKey()) != key.Address() {
		t.Error("signer public key should map to the key address")
	}
	hash := crypto.Hash([]byte("header"))
	sig, err := signer.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !crypto.VerifySignature(hash[:], sig, signer.PublicKey()) {
		t.Error("signature should verify")
	}
}
