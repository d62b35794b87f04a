package block

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

func testHeader() *Header {
	return &Header{
		Version:     CurrentVersion,
		Type:        TypePoS,
		PrevHash:    types.Hash{0x01},
		Height:      10,
		Timestamp:   1_700_000_000,
		Bits:        types.Hash{0x00, 0xff},
		Staker:      types.Address{0xaa},
		StakeHash:   types.Hash{0x02},
		StakeTime:   1_700_000_000,
		StakeAmount: 1000,
		KernelHash:  types.Hash{0x03},
	}
}

func signedHeader(t *testing.T) (*Header, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	h := testHeader()
	h.Staker = key.Address()
	sig, err := key.SignHash(h.Hash())
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	h.ValidatorPubKey = key.PublicKey()
	h.ValidatorSig = sig
	return h, key
}

func TestHeader_HashExcludesSignature(t *testing.T) {
	h := testHeader()
	before := h.Hash()
	h.ValidatorSig = []byte{1, 2, 3}
	h.ValidatorPubKey = []byte{4, 5, 6}
	if h.Hash() != before {
		t.Error("hash should not depend on validator signature fields")
	}
	h.StakeTime++
	if h.Hash() == before {
		t.Error("hash should change when the kernel claim changes")
	}
}

func TestHeader_VerifySignature(t *testing.T) {
	h, _ := signedHeader(t)
	if err := h.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature() error: %v", err)
	}

	unsigned := testHeader()
	if err := unsigned.VerifySignature(); !errors.Is(err, ErrUnsigned) {
		t.Errorf("unsigned header: got %v, want ErrUnsigned", err)
	}

	wrongStaker := h.Copy()
	wrongStaker.Staker = types.Address{0x99}
	if err := wrongStaker.VerifySignature(); !errors.Is(err, ErrSignerMismatch) {
		t.Errorf("wrong staker: got %v, want ErrSignerMismatch", err)
	}

	tampered := h.Copy()
	tampered.ValidatorSig[0] ^= 0xff
	if err := tampered.VerifySignature(); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered sig: got %v, want ErrBadSignature", err)
	}
}

func TestHeader_CopyIsDeep(t *testing.T) {
	h, _ := signedHeader(t)
	cp := h.Copy()
	cp.ValidatorSig[0] ^= 0xff
	if h.ValidatorSig[0] == cp.ValidatorSig[0] {
		t.Error("Copy() should not share the signature slice")
	}
}

func TestHeader_JSON_RoundTrip(t *testing.T) {
	h, _ := signedHeader(t)
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got Header
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got.Hash() != h.Hash() {
		t.Error("JSON roundtrip changed header hash")
	}
	if err := got.VerifySignature(); err != nil {
		t.Errorf("JSON roundtrip lost signature: %v", err)
	}
}

func TestEncodeHeaders_PreservesSignatures(t *testing.T) {
	a, _ := signedHeader(t)
	b := testHeader()
	b.Height = 11

	data, err := EncodeHeaders(a, b)
	if err != nil {
		t.Fatalf("EncodeHeaders() error: %v", err)
	}
	got, err := DecodeHeaders(data)
	if err != nil {
		t.Fatalf("DecodeHeaders() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d headers, want 2", len(got))
	}
	if got[0].Hash() != a.Hash() || got[1].Hash() != b.Hash() {
		t.Error("decoded headers hash differently")
	}
	if err := got[0].VerifySignature(); err != nil {
		t.Errorf("decoded signature invalid: %v", err)
	}
	if got[1].IsSigned() {
		t.Error("unsigned header decoded as signed")
	}
}

func TestEncodeHeaders_NilHeader(t *testing.T) {
	if _, err := EncodeHeaders(testHeader(), nil); !errors.Is(err, ErrNilHeader) {
		t.Errorf("got %v, want ErrNilHeader", err)
	}
}

func TestDecodeHeaders_Garbage(t *testing.T) {
	if _, err := DecodeHeaders([]byte{0xff, 0x01}); err == nil {
		t.Error("expected decode error for garbage input")
	}
}

func TestBlock_Validate(t *testing.T) {
	payload := [][]byte{[]byte("tx1"), []byte("tx2"), []byte("tx3")}

	tests := []struct {
		name    string
		mutate  func(b *Block)
		wantErr error
	}{
		{"valid", func(b *Block) {}, nil},
		{"nil header", func(b *Block) { b.Header = nil }, ErrNilHeader},
		{"bad version", func(b *Block) { b.Header.Version = 2 }, ErrBadVersion},
		{"zero timestamp", func(b *Block) { b.Header.Timestamp = 0 }, ErrZeroTimestamp},
		{"payload tampered", func(b *Block) { b.Payload[0] = []byte("evil") }, ErrBadPayloadRoot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([][]byte, len(payload))
			copy(p, payload)
			b := NewBlock(testHeader(), p)
			tt.mutate(b)
			err := b.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayloadRoot(t *testing.T) {
	if !PayloadRoot(nil).IsZero() {
		t.Error("empty payload should have the zero root")
	}

	leaf := func(b string) types.Hash {
		return crypto.NewHasher().WriteUint8(payloadLeafTag).WriteBytes([]byte(b)).Sum()
	}
	if got := PayloadRoot([][]byte{[]byte("a")}); got != leaf("a") {
		t.Errorf("single entry: got %s, want its leaf hash", got)
	}

	want := payloadNode(payloadNode(leaf("a"), leaf("b")), leaf("c"))
	three := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	if got := PayloadRoot(three); got != want {
		t.Errorf("three entries: got %s, want %s", got, want)
	}

	// Repeating the odd entry must change the root.
	four := append(three, []byte("c"))
	if PayloadRoot(four) == PayloadRoot(three) {
		t.Error("duplicated trailing entry produced the same root")
	}
}
