package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Type distinguishes how a block's production right was earned.
type Type uint8

// Block types.
const (
	TypePoW Type = 0
	TypePoS Type = 1
)

// String returns a human-readable block type.
func (t Type) String() string {
	switch t {
	case TypePoW:
		return "pow"
	case TypePoS:
		return "pos"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Header contains block metadata and the stake kernel claim.
//
// StakeHash, StakeTime, StakeAmount and KernelHash form the kernel claim.
// Bits is the big-endian 256-bit target the kernel was produced under.
type Header struct {
	Version     uint32        `json:"version"`
	Type        Type          `json:"type"`
	PrevHash    types.Hash    `json:"prev_hash"`
	PayloadRoot types.Hash    `json:"payload_root"`
	Height      uint64        `json:"height"`
	Timestamp   uint64        `json:"timestamp"`
	Bits        types.Hash    `json:"bits"`
	Staker      types.Address `json:"staker"`
	StakeHash   types.Hash    `json:"stake_hash"`
	StakeTime   uint64        `json:"stake_time"`
	StakeAmount uint64        `json:"stake_amount"`
	KernelHash  types.Hash    `json:"kernel_hash"`

	ValidatorPubKey []byte `json:"-"`
	ValidatorSig    []byte `json:"-"`
}

type headerJSON struct {
	Version         uint32        `json:"version"`
	Type            Type          `json:"type"`
	PrevHash        types.Hash    `json:"prev_hash"`
	PayloadRoot     types.Hash    `json:"payload_root"`
	Height          uint64        `json:"height"`
	Timestamp       uint64        `json:"timestamp"`
	Bits            types.Hash    `json:"bits"`
	Staker          types.Address `json:"staker"`
	StakeHash       types.Hash    `json:"stake_hash"`
	StakeTime       uint64        `json:"stake_time"`
	StakeAmount     uint64        `json:"stake_amount"`
	KernelHash      types.Hash    `json:"kernel_hash"`
	ValidatorPubKey string        `json:"validator_pubkey,omitempty"`
	ValidatorSig    string        `json:"validator_sig,omitempty"`
}

// MarshalJSON encodes the header with hex-encoded validator key and signature.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:     h.Version,
		Type:        h.Type,
		PrevHash:    h.PrevHash,
		PayloadRoot: h.PayloadRoot,
		Height:      h.Height,
		Timestamp:   h.Timestamp,
		Bits:        h.Bits,
		Staker:      h.Staker,
		StakeHash:   h.StakeHash,
		StakeTime:   h.StakeTime,
		StakeAmount: h.StakeAmount,
		KernelHash:  h.KernelHash,
	}
	if h.ValidatorPubKey != nil {
		j.ValidatorPubKey = hex.EncodeToString(h.ValidatorPubKey)
	}
	if h.ValidatorSig != nil {
		j.ValidatorSig = hex.EncodeToString(h.ValidatorSig)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with hex-encoded validator key and signature.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*h = Header{
		Version:     j.Version,
		Type:        j.Type,
		PrevHash:    j.PrevHash,
		PayloadRoot: j.PayloadRoot,
		Height:      j.Height,
		Timestamp:   j.Timestamp,
		Bits:        j.Bits,
		Staker:      j.Staker,
		StakeHash:   j.StakeHash,
		StakeTime:   j.StakeTime,
		StakeAmount: j.StakeAmount,
		KernelHash:  j.KernelHash,
	}
	if j.ValidatorPubKey != "" {
		b, err := hex.DecodeString(j.ValidatorPubKey)
		if err != nil {
			return fmt.Errorf("validator pubkey: %w", err)
		}
		h.ValidatorPubKey = b
	}
	if j.ValidatorSig != "" {
		b, err := hex.DecodeString(j.ValidatorSig)
		if err != nil {
			return fmt.Errorf("validator sig: %w", err)
		}
		h.ValidatorSig = b
	}
	return nil
}

// Hash computes the block header hash.
// Excludes the validator key and signature so the hash is stable for signing.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical bytes for hashing/signing.
// Format: version(4) | type(1) | prev_hash(32) | payload_root(32) | height(8) | timestamp(8) |
// bits(32) | staker(20) | stake_hash(32) | stake_time(8) | stake_amount(8) | kernel_hash(32)
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 215)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, byte(h.Type))
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.PayloadRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = append(buf, h.Bits[:]...)
	buf = append(buf, h.Staker[:]...)
	buf = append(buf, h.StakeHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.StakeTime)
	buf = binary.LittleEndian.AppendUint64(buf, h.StakeAmount)
	buf = append(buf, h.KernelHash[:]...)
	return buf
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	cp := *h
	if h.ValidatorPubKey != nil {
		cp.ValidatorPubKey = append([]byte(nil), h.ValidatorPubKey...)
	}
	if h.ValidatorSig != nil {
		cp.ValidatorSig = append([]byte(nil), h.ValidatorSig...)
	}
	return &cp
}

// IsSigned reports whether both the validator key and signature are present.
func (h *Header) IsSigned() bool {
	return len(h.ValidatorPubKey) > 0 && len(h.ValidatorSig) > 0
}

// VerifySignature checks the validator signature over the header hash and
// that the signing key belongs to the staker address.
func (h *Header) VerifySignature() error {
	if !h.IsSigned() {
		return ErrUnsigned
	}
	signer, err := crypto.ParsePublicKey(h.ValidatorPubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != h.Staker {
		return ErrSignerMismatch
	}
	hash := h.Hash()
	if !crypto.VerifySignature(hash[:], h.ValidatorSig, h.ValidatorPubKey) {
		return ErrBadSignature
	}
	return nil
}
