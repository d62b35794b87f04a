package consensus

import (
	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/crypto"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
	"github.com/holiman/uint256"
)

const bpsOne = config.BpsDenominator

// MaxTarget is 2^256 - 1, the easiest possible target.
var MaxTarget = new(uint256.Int).SetAllOne()

// KernelClaim is the stake proof carried by a PoS header.
type KernelClaim struct {
	StakeHash  types.Hash
	StakeTime  uint64
	Amount     uint64
	KernelHash types.Hash
}

// ClaimFromHeader extracts the kernel claim from a header.
func ClaimFromHeader(h *block.Header) KernelClaim {
	return KernelClaim{
		StakeHash:  h.StakeHash,
		StakeTime:  h.StakeTime,
		Amount:     h.StakeAmount,
		KernelHash: h.KernelHash,
	}
}

// ComputeKernel returns H(stake_hash | stake_time | prev_hash | amount).
// Integers are little-endian, the same encoding as header signing bytes.
func ComputeKernel(stakeHash types.Hash, stakeTime uint64, prevHash types.Hash, amount uint64) types.Hash {
	return crypto.NewHasher().
		WriteBytes(stakeHash[:]).
		WriteUint64(stakeTime).
		WriteBytes(prevHash[:]).
		WriteUint64(amount).
		Sum()
}

// VerifyKernel recomputes the kernel hash of c on top of prevHash and
// compares it with the claimed value.
func VerifyKernel(c KernelClaim, prevHash types.Hash) bool {
	return ComputeKernel(c.StakeHash, c.StakeTime, prevHash, c.Amount) == c.KernelHash
}

// DifficultyFor returns MaxTarget / totalEligibleStake. More stake means a
// smaller (harder) target. Zero stake yields MaxTarget.
func DifficultyFor(totalEligibleStake uint64) *uint256.Int {
	if totalEligibleStake == 0 {
		return MaxTarget.Clone()
	}
	return new(uint256.Int).Div(MaxTarget, uint256.NewInt(totalEligibleStake))
}

// TargetToBits encodes a target as the header's 32-byte big-endian Bits field.
func TargetToBits(t *uint256.Int) types.Hash {
	return types.Hash(t.Bytes32())
}

// BitsToTarget decodes a header Bits field.
func BitsToTarget(bits types.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(bits[:])
}

// RewardFor returns base * (1 - ratio * decay), where
// ratio = totalEligibleStake / maxSupply and decay = decayBps / 10000.
// The result is clamped to [0, base].
func RewardFor(totalEligibleStake, baseReward, maxSupply, decayBps uint64) uint64 {
	if maxSupply == 0 || decayBps == 0 || totalEligibleStake == 0 {
		return baseReward
	}
	// reduction = base * total * decay / (maxSupply * 10000), in 256 bits.
	num := new(uint256.Int).Mul(uint256.NewInt(baseReward), uint256.NewInt(totalEligibleStake))
	num.Mul(num, uint256.NewInt(decayBps))
	den := new(uint256.Int).Mul(uint256.NewInt(maxSupply), uint256.NewInt(bpsOne))
	reduction := num.Div(num, den)

	if !reduction.IsUint64() || reduction.Uint64() >= baseReward {
		return 0
	}
	return baseReward - reduction.Uint64()
}

// ApplyBps returns floor(amount * bps / 10000), saturating at MaxUint64.
func ApplyBps(amount, bps uint64) uint64 {
	v := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(bps))
	v.Div(v, uint256.NewInt(bpsOne))
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
