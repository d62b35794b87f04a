package block

import (
	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// Domain tags keep a leaf from ever hashing like an inner node.
const (
	payloadLeafTag = 0x00
	payloadNodeTag = 0x01
)

// PayloadRoot commits to the ordered payload entries.
//
// Leaves are H(0x00 | entry), inner nodes H(0x01 | left | right). An odd
// node at the end of a level is carried up unchanged rather than paired
// with itself, so no two distinct payloads share a root. An empty payload
// has the zero root.
func PayloadRoot(payload [][]byte) types.Hash {
	if len(payload) == 0 {
		return types.Hash{}
	}
	level := make([]types.Hash, len(payload))
	for i, p := range payload {
		level[i] = crypto.NewHasher().WriteUint8(payloadLeafTag).WriteBytes(p).Sum()
	}
	for len(level) > 1 {
		next := level[:0:0]
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, payloadNode(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

func payloadNode(left, right types.Hash) types.Hash {
	return crypto.NewHasher().
		WriteUint8(payloadNodeTag).
		WriteBytes(left[:]).
		WriteBytes(right[:]).
		Sum()
}
