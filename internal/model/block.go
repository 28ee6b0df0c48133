package model

import (
	"encoding/binary"
	"math"

	"github.com/shopspring/decimal"
)

// Block mirrors spec.md §3's Block entity. Height is unique and dense from
// 0; for h>0, ParentHash must equal the hash of the block at h-1; TxCount
// must equal the number of confirmed transactions referencing Hash.
type Block struct {
	Height      uint64
	Hash        H256
	ParentHash  H256
	MerkleRoot  H256
	Timestamp   uint64
	Validator   Addr
	Signature   []byte
	TxCount     uint32
	Metadata    []byte // opaque JSON passthrough, per spec.md §9 open question
}

// TxStatus enumerates the lifecycle of a Transaction / MempoolEntry.
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxConfirmed  TxStatus = "confirmed"
	TxInvalid    TxStatus = "invalid"
	TxFailed     TxStatus = "failed"
	TxProcessing TxStatus = "processing"
)

// Transaction mirrors spec.md §3's Transaction entity.
type Transaction struct {
	Hash        H256
	From        Addr
	To          Addr
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Nonce       uint64
	GasLimit    uint64
	GasUsed     uint64
	GasPrice    decimal.Decimal
	Data        []byte
	Signature   []byte
	Status      TxStatus
	BlockHash   *H256
	BlockHeight *uint64
	Timestamp   uint64
}

// MempoolEntry is a Transaction before confirmation, carrying scheduling
// metadata used by the PoS mining loop and janitor (spec.md §3, §4.H, §4.I).
type MempoolEntry struct {
	Transaction
	PriorityScore float64
	CreatedAt     uint64
	LastRetryAt   *uint64
	ExpiresAt     *uint64
}

// ComputePriorityScore implements the spec.md §4.F formula:
// fee*10 + min(100, log10(amount+1)*20).
func ComputePriorityScore(fee, amount decimal.Decimal) float64 {
	f, _ := fee.Mul(decimal.NewFromInt(10)).Float64()
	a, _ := amount.Float64()
	bonus := math.Log10(a+1) * 20
	if bonus > 100 {
		bonus = 100
	}
	return f + bonus
}

// EncodeHeightBE is a small helper used by block-hash style computations
// elsewhere (mining, ComputeEventID) to keep height encoding consistent.
func EncodeHeightBE(h uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, h)
	return b
}
