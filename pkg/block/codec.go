package block

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// rlpHeader is the wire shape of a header inside evidence proofs.
// It carries the signature fields that Hash() excludes.
type rlpHeader struct {
	Version         uint32
	Type            uint8
	PrevHash        [32]byte
	PayloadRoot     [32]byte
	Height          uint64
	Timestamp       uint64
	Bits            [32]byte
	Staker          [20]byte
	StakeHash       [32]byte
	StakeTime       uint64
	StakeAmount     uint64
	KernelHash      [32]byte
	ValidatorPubKey []byte
	ValidatorSig    []byte
}

func toRLP(h *Header) rlpHeader {
	return rlpHeader{
		Version:         h.Version,
		Type:            uint8(h.Type),
		PrevHash:        h.PrevHash,
		PayloadRoot:     h.PayloadRoot,
		Height:          h.Height,
		Timestamp:       h.Timestamp,
		Bits:            h.Bits,
		Staker:          h.Staker,
		StakeHash:       h.StakeHash,
		StakeTime:       h.StakeTime,
		StakeAmount:     h.StakeAmount,
		KernelHash:      h.KernelHash,
		ValidatorPubKey: h.ValidatorPubKey,
		ValidatorSig:    h.ValidatorSig,
	}
}

func fromRLP(r *rlpHeader) *Header {
	h := &Header{
		Version:     r.Version,
		Type:        Type(r.Type),
		PrevHash:    r.PrevHash,
		PayloadRoot: r.PayloadRoot,
		Height:      r.Height,
		Timestamp:   r.Timestamp,
		Bits:        r.Bits,
		Staker:      r.Staker,
		StakeHash:   r.StakeHash,
		StakeTime:   r.StakeTime,
		StakeAmount: r.StakeAmount,
		KernelHash:  r.KernelHash,
	}
	if len(r.ValidatorPubKey) > 0 {
		h.ValidatorPubKey = r.ValidatorPubKey
	}
	if len(r.ValidatorSig) > 0 {
		h.ValidatorSig = r.ValidatorSig
	}
	return h
}

// EncodeHeader returns the RLP encoding of a single header, signature included.
func EncodeHeader(h *Header) ([]byte, error) {
	return rlp.EncodeToBytes(toRLP(h))
}

// DecodeHeader decodes a header produced by EncodeHeader.
func DecodeHeader(data []byte) (*Header, error) {
	var r rlpHeader
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return fromRLP(&r), nil
}

// EncodeHeaders returns the RLP list encoding of headers, in order.
func EncodeHeaders(hs ...*Header) ([]byte, error) {
	list := make([]rlpHeader, len(hs))
	for i, h := range hs {
		if h == nil {
			return nil, ErrNilHeader
		}
		list[i] = toRLP(h)
	}
	return rlp.EncodeToBytes(list)
}

// DecodeHeaders decodes a list produced by EncodeHeaders.
func DecodeHeaders(data []byte) ([]*Header, error) {
	var list []rlpHeader
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	out := make([]*Header, len(list))
	for i := range list {
		out[i] = fromRLP(&list[i])
	}
	return out, nil
}
