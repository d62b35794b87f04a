package metrics

// Staking engine meters. Each is created on first use.
var (
	StakesCreated      = LazyLoadCounter("stakes_created_count")
	StakesRemoved      = LazyLoadCounter("stakes_removed_count")
	ValidatorCount     = LazyLoadGauge("validator_count")
	BlocksBuilt        = LazyLoadCounter("blocks_built_count")
	BlocksValidated    = LazyLoadCounterVec("blocks_validated_count", []string{"result"})
	EvidenceAccepted   = LazyLoadCounterVec("evidence_accepted_count", []string{"kind"})
	TotalSlashed       = LazyLoadGauge("total_slashed")
	BannedValidators   = LazyLoadGauge("banned_validators")
	ActiveBoosts       = LazyLoadGauge("active_boosts")
	SchedulerIteration = LazyLoadCounterVec("scheduler_iterations_count", []string{"outcome"})
	ProposalsCreated   = LazyLoadCounter("proposals_created_count")
	VotesCast          = LazyLoadCounterVec("votes_cast_count", []string{"side"})
)

// Local chain meters.
var (
	ChainHeight    = LazyLoadGauge("chain_height")
	BlocksRejected = LazyLoadCounterVec("blocks_rejected_count", []string{"reason"})
)

// RPC meters.
var (
	RPCRequests = LazyLoadCounterVec("rpc_requests_count", []string{"method"})
)
