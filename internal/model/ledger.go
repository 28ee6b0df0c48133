package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet mirrors spec.md §3's Wallet entity. Balance and StakedBalance are
// cache fields recomputed by the Store Gateway's wallet-cache rebuild
// (spec.md §4.B, §8 property 3); they are never the source of truth.
type Wallet struct {
	Address       Addr
	Balance       decimal.Decimal
	StakedBalance decimal.Decimal
	Nonce         uint64
	PublicKey     []byte
	UpdatedAt     time.Time
}

// ValidatorStatus enumerates a Validator's participation state.
type ValidatorStatus string

const (
	ValidatorActive  ValidatorStatus = "active"
	ValidatorJailed  ValidatorStatus = "jailed"
	ValidatorExited  ValidatorStatus = "exited"
)

// Validator mirrors spec.md §3's Validator entity.
type Validator struct {
	Address         Addr
	PublicKey       []byte
	Stake           decimal.Decimal
	DelegatedStake  decimal.Decimal
	CommissionRate  decimal.Decimal
	Status          ValidatorStatus
	BlocksProduced  uint64
	BlocksMissed    uint64
	LastActiveBlock uint64
	JailUntilBlock  uint64
	Metadata        []byte
}

// StakingStatus enumerates a StakingRecord's lifecycle. Withdrawn and
// Completed are terminal: spec.md §3 forbids any replication from reviving
// or mutating downward a terminal record (§8 property 4).
type StakingStatus string

const (
	StakingActive    StakingStatus = "active"
	StakingWithdrawn StakingStatus = "withdrawn"
	StakingCompleted StakingStatus = "completed"
)

// IsTerminal reports whether s is a frozen staking state.
func (s StakingStatus) IsTerminal() bool {
	return s == StakingWithdrawn || s == StakingCompleted
}

// StakingRecord mirrors spec.md §3's StakingRecord entity.
type StakingRecord struct {
	Validator       Addr
	Staker          Addr
	Amount          decimal.Decimal
	RewardRate      decimal.Decimal
	StartBlock      uint64
	EndBlock        *uint64
	Status          StakingStatus
	RewardsEarned   decimal.Decimal
	LastRewardBlock uint64
	ContractAddress *Addr
}

// NodeStatus enumerates a peer NodeRecord's reachability state.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
	NodeBanned   NodeStatus = "banned"
)

// NodeRecord mirrors spec.md §3's NodeRecord (peer) entity. ReputationScore
// is clamped to [0,100] by every writer (§8 property 7); deltas must be
// applied atomically (§5).
type NodeRecord struct {
	NodeID          string
	IP              string
	Port            int
	Protocol        string // "http" or "https"
	Domain          string
	PublicKey       []byte
	Version         string
	Status          NodeStatus
	LastSeen        time.Time
	ReputationScore int
	Metadata        []byte
}

// ClampReputation enforces the [0,100] invariant.
func ClampReputation(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// SmartContract is an opaque passthrough record (spec.md §1: wallet
// cryptography and contract bytecode are opaque primitives out of scope).
type SmartContract struct {
	Address   Addr
	Creator   Addr
	CodeHash  H256
	Bytecode  []byte
	CreatedAt time.Time
	Metadata  []byte
}

// Event is a block-notification broadcast record (spec.md §3, §4.J).
type Event struct {
	BlockHash   H256
	BlockHeight uint64
	SourceNode  string
	Timestamp   uint64
	EventID     H256
}

// ComputeEventID derives the content-addressed event identifier:
// sha256(hash|height|timestamp), per spec.md GLOSSARY "Event id".
func ComputeEventID(blockHash H256, height, timestamp uint64) H256 {
	buf := make([]byte, 0, 32+8+8)
	buf = append(buf, blockHash[:]...)
	buf = append(buf, EncodeHeightBE(height)...)
	buf = append(buf, EncodeHeightBE(timestamp)...)
	return SHA256(buf)
}
