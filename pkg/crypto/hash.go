// Package crypto provides the hashing and signature primitives used by the staking engine.
package crypto

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-pos/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// Hasher accumulates fixed-order fields and hashes them with BLAKE3-256.
// Integers are written little-endian, matching header signing bytes.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns an empty field hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// WriteBytes appends raw bytes.
func (w *Hasher) WriteBytes(b []byte) *Hasher {
	_, _ = w.h.Write(b)
	return w
}

// WriteUint64 appends a little-endian uint64.
func (w *Hasher) WriteUint64(v uint64) *Hasher {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = w.h.Write(buf[:])
	return w
}

// WriteUint8 appends a single byte.
func (w *Hasher) WriteUint8(v uint8) *Hasher {
	_, _ = w.h.Write([]byte{v})
	return w
}

// Sum returns the 32-byte digest of everything written so far.
func (w *Hasher) Sum() types.Hash {
	var out types.Hash
	copy(out[:], w.h.Sum(nil))
	return out
}
