// Package slashing validates misbehavior evidence and punishes validators
// with stake slashes, bans and reward reductions.
package slashing

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Kind identifies the misbehavior an Evidence proves.
type Kind uint8

// Evidence kinds.
const (
	DoubleSigning Kind = 1 // two conflicting blocks at the same height
	InvalidBlock  Kind = 2 // a block that fails consensus validation
	Inactivity    Kind = 3 // no block produced for longer than the threshold
)

// Kinds lists every evidence kind.
var Kinds = []Kind{DoubleSigning, InvalidBlock, Inactivity}

// String returns the kind name used in configuration, logs and RPC.
func (k Kind) String() string {
	switch k {
	case DoubleSigning:
		return "double_signing"
	case InvalidBlock:
		return "invalid_block"
	case Inactivity:
		return "inactivity"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Evidence is a claim that Validator misbehaved.
//
// Block references and Proof depend on Kind:
//   - DoubleSigning: BlockA and BlockB are the two conflicting header
//     hashes; Proof is the RLP list of both headers.
//   - InvalidBlock: BlockA is the offending header hash; Proof is the RLP
//     list of that header and its parent.
//   - Inactivity: BlockA is the hash of the validator's last observed block
//     (zero if it never produced one); Proof is empty.
type Evidence struct {
	Kind      Kind          `json:"kind"`
	Validator types.Address `json:"validator"`
	BlockA    types.Hash    `json:"block_a"`
	BlockB    types.Hash    `json:"block_b"`
	Timestamp uint64        `json:"timestamp"`
	Proof     []byte        `json:"proof,omitempty"`
}

// Primary returns the block reference used for deduplication. For double
// signing it is the smaller of the two hashes, so the pair is unordered.
func (e *Evidence) Primary() types.Hash {
	if e.Kind == DoubleSigning && e.BlockB.Less(e.BlockA) {
		return e.BlockB
	}
	return e.BlockA
}

// ID returns H(kind | validator | primary block), the deduplication key.
func (e *Evidence) ID() types.Hash {
	primary := e.Primary()
	return crypto.NewHasher().
		WriteUint8(uint8(e.Kind)).
		WriteBytes(e.Validator[:]).
		WriteBytes(primary[:]).
		Sum()
}

// Copy returns a deep copy.
func (e *Evidence) Copy() *Evidence {
	cp := *e
	if e.Proof != nil {
		cp.Proof = append([]byte(nil), e.Proof...)
	}
	return &cp
}

// Validate checks that the evidence carries what its kind requires. It
// does not check whether the evidence proves anything.
func (e *Evidence) Validate() error {
	if e.Validator.IsZero() {
		return fmt.Errorf("%w: missing validator", ErrMalformed)
	}
	if e.Timestamp == 0 {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	switch e.Kind {
	case DoubleSigning:
		if e.BlockA.IsZero() || e.BlockB.IsZero() {
			return fmt.Errorf("%w: double signing needs two block references", ErrMalformed)
		}
		if e.BlockA == e.BlockB {
			return fmt.Errorf("%w: double signing references the same block twice", ErrMalformed)
		}
		hs, err := e.headers(2)
		if err != nil {
			return err
		}
		a, b := hs[0].Hash(), hs[1].Hash()
		if !(a == e.BlockA && b == e.BlockB) && !(a == e.BlockB && b == e.BlockA) {
			return fmt.Errorf("%w: proof headers do not match block references", ErrMalformed)
		}
	case InvalidBlock:
		if e.BlockA.IsZero() {
			return fmt.Errorf("%w: invalid block needs a block reference", ErrMalformed)
		}
		if !e.BlockB.IsZero() {
			return fmt.Errorf("%w: invalid block takes one block reference", ErrMalformed)
		}
		hs, err := e.headers(2)
		if err != nil {
			return err
		}
		if hs[0].Hash() != e.BlockA {
			return fmt.Errorf("%w: proof header does not match block reference", ErrMalformed)
		}
		if hs[0].PrevHash != hs[1].Hash() {
			return fmt.Errorf("%w: second proof header is not the parent", ErrMalformed)
		}
	case Inactivity:
		if !e.BlockB.IsZero() || len(e.Proof) != 0 {
			return fmt.Errorf("%w: inactivity takes no proof", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, ErrUnknownKind)
	}
	return nil
}

// Headers decodes the proof headers.
func (e *Evidence) Headers() ([]*block.Header, error) {
	if len(e.Proof) == 0 {
		return nil, nil
	}
	hs, err := block.DecodeHeaders(e.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return hs, nil
}

func (e *Evidence) headers(n int) ([]*block.Header, error) {
	hs, err := e.Headers()
	if err != nil {
		return nil, err
	}
	if len(hs) != n {
		return nil, fmt.Errorf("%w: proof has %d headers, want %d", ErrMalformed, len(hs), n)
	}
	return hs, nil
}

// NewDoubleSigningEvidence builds evidence from two conflicting headers.
func NewDoubleSigningEvidence(a, b *block.Header, now uint64) (*Evidence, error) {
	proof, err := block.EncodeHeaders(a, b)
	if err != nil {
		return nil, err
	}
	return &Evidence{
		Kind:      DoubleSigning,
		Validator: a.Staker,
		BlockA:    a.Hash(),
		BlockB:    b.Hash(),
		Timestamp: now,
		Proof:     proof,
	}, nil
}

// NewInvalidBlockEvidence builds evidence from a header and its parent.
func NewInvalidBlockEvidence(h, parent *block.Header, now uint64) (*Evidence, error) {
	proof, err := block.EncodeHeaders(h, parent)
	if err != nil {
		return nil, err
	}
	return &Evidence{
		Kind:      InvalidBlock,
		Validator: h.Staker,
		BlockA:    h.Hash(),
		Timestamp: now,
		Proof:     proof,
	}, nil
}
