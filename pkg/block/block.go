// Package block defines the block header carrying a stake kernel claim.
package block

import "github.com/Klingon-tech/klingnet-pos/pkg/types"

// Block pairs a header with an opaque payload. The surrounding node owns
// the meaning of payload entries (transactions, receipts).
type Block struct {
	Header  *Header  `json:"header"`
	Payload [][]byte `json:"payload,omitempty"`
}

// NewBlock creates a block and fills in the header's payload root.
func NewBlock(header *Header, payload [][]byte) *Block {
	header.PayloadRoot = PayloadRoot(payload)
	return &Block{
		Header:  header,
		Payload: payload,
	}
}

// Hash returns the header hash.
func (b *Block) Hash() types.Hash {
	return b.Header.Hash()
}
