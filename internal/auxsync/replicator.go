// Package auxsync implements spec.md §4.F: paginated fetch-and-upsert
// replication of wallets, validators, smart contracts, staking records, and
// a pull-based mempool import, all layered over the Store Gateway.
package auxsync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"chainsyncd/internal/config"
	"chainsyncd/internal/model"
	"chainsyncd/internal/peerclient"
	"chainsyncd/internal/store"
)

type Replicator struct {
	store  *store.Store
	client *peerclient.Client
	cfg    *config.Config
	logger *logrus.Logger
}

func New(st *store.Store, client *peerclient.Client, cfg *config.Config, logger *logrus.Logger) *Replicator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Replicator{store: st, client: client, cfg: cfg, logger: logger}
}

type wireWallet struct {
	Address   string `json:"address"`
	PublicKey []byte `json:"public_key"`
	Nonce     uint64 `json:"nonce"`
}

// SyncWallets upserts wallet metadata (public_key/nonce) for every remote
// wallet; balance/staked_balance remain cache-derived locally.
func (r *Replicator) SyncWallets(ctx context.Context, base string) (int, error) {
	resp, err := r.client.Get(ctx, peerclient.WalletsURL(base), r.cfg.FetchTimeout)
	if err != nil {
		return 0, err
	}
	var rows []wireWallet
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &rows); err != nil {
		return 0, err
	}
	n := 0
	for _, w := range rows {
		rec := model.Wallet{
			Address:   model.Addr(w.Address),
			Balance:   decimal.Zero,
			StakedBalance: decimal.Zero,
			Nonce:     w.Nonce,
			PublicKey: w.PublicKey,
			UpdatedAt: time.Now(),
		}
		if err := r.store.UpsertWallet(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type wireValidator struct {
	Address         string          `json:"address"`
	PublicKey       []byte          `json:"public_key"`
	Stake           decimal.Decimal `json:"stake"`
	DelegatedStake  decimal.Decimal `json:"delegated_stake"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	Status          string          `json:"status"`
	BlocksProduced  uint64          `json:"blocks_produced"`
	BlocksMissed    uint64          `json:"blocks_missed"`
	LastActiveBlock uint64          `json:"last_active_block"`
	JailUntilBlock  uint64          `json:"jail_until_block"`
	Metadata        []byte          `json:"metadata"`
}

// SyncValidators upserts the remote validator directory.
func (r *Replicator) SyncValidators(ctx context.Context, base string) (int, error) {
	resp, err := r.client.Get(ctx, peerclient.ValidatorsListURL(base), r.cfg.FetchTimeout)
	if err != nil {
		return 0, err
	}
	var rows []wireValidator
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &rows); err != nil {
		return 0, err
	}
	n := 0
	for _, w := range rows {
		v := model.Validator{
			Address:         model.Addr(w.Address),
			PublicKey:       w.PublicKey,
			Stake:           w.Stake,
			DelegatedStake:  w.DelegatedStake,
			CommissionRate:  w.CommissionRate,
			Status:          model.ValidatorStatus(w.Status),
			BlocksProduced:  w.BlocksProduced,
			BlocksMissed:    w.BlocksMissed,
			LastActiveBlock: w.LastActiveBlock,
			JailUntilBlock:  w.JailUntilBlock,
			Metadata:        w.Metadata,
		}
		if err := r.store.UpsertValidator(ctx, v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type wireContract struct {
	Address   string `json:"address"`
	Creator   string `json:"creator"`
	CodeHash  string `json:"code_hash"`
	Bytecode  []byte `json:"bytecode"`
	CreatedAt uint64 `json:"created_at"`
	Metadata  []byte `json:"metadata"`
}

// SyncSmartContracts upserts the remote contract directory (opaque
// passthrough per spec.md §1).
func (r *Replicator) SyncSmartContracts(ctx context.Context, base string) (int, error) {
	resp, err := r.client.Get(ctx, peerclient.SmartContractsURL(base), r.cfg.FetchTimeout)
	if err != nil {
		return 0, err
	}
	var rows []wireContract
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &rows); err != nil {
		return 0, err
	}
	n := 0
	for _, w := range rows {
		codeHash, err := model.ParseH256(w.CodeHash)
		if err != nil {
			continue
		}
		c := model.SmartContract{
			Address:   model.Addr(w.Address),
			Creator:   model.Addr(w.Creator),
			CodeHash:  codeHash,
			Bytecode:  w.Bytecode,
			CreatedAt: time.Unix(int64(w.CreatedAt), 0),
			Metadata:  w.Metadata,
		}
		if err := r.store.UpsertSmartContract(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type wireStaking struct {
	Validator       string          `json:"validator"`
	Staker          string          `json:"staker"`
	Amount          decimal.Decimal `json:"amount"`
	RewardRate      decimal.Decimal `json:"reward_rate"`
	StartBlock      uint64          `json:"start_block"`
	EndBlock        *uint64         `json:"end_block"`
	Status          string          `json:"status"`
	RewardsEarned   decimal.Decimal `json:"rewards_earned"`
	LastRewardBlock uint64          `json:"last_reward_block"`
	ContractAddress *string         `json:"contract_address"`
}

// SyncStaking upserts remote staking records through the Store Gateway's
// terminal-state-freeze MERGE semantics (spec.md §3, §4.B).
func (r *Replicator) SyncStaking(ctx context.Context, base string) (int, error) {
	resp, err := r.client.Get(ctx, peerclient.StakingRecordsURL(base), r.cfg.FetchTimeout)
	if err != nil {
		return 0, err
	}
	var rows []wireStaking
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &rows); err != nil {
		return 0, err
	}
	n := 0
	for _, w := range rows {
		rec := model.StakingRecord{
			Validator:       model.Addr(w.Validator),
			Staker:          model.Addr(w.Staker),
			Amount:          w.Amount,
			RewardRate:      w.RewardRate,
			StartBlock:      w.StartBlock,
			EndBlock:        w.EndBlock,
			Status:          model.StakingStatus(w.Status),
			RewardsEarned:   w.RewardsEarned,
			LastRewardBlock: w.LastRewardBlock,
		}
		if w.ContractAddress != nil {
			a := model.Addr(*w.ContractAddress)
			rec.ContractAddress = &a
		}
		if err := r.store.UpsertStaking(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type wireMempoolEntry struct {
	Hash      string          `json:"hash"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Nonce     uint64          `json:"nonce"`
	GasLimit  uint64          `json:"gas_limit"`
	GasUsed   uint64          `json:"gas_used"`
	GasPrice  decimal.Decimal `json:"gas_price"`
	Data      []byte          `json:"data"`
	Signature []byte          `json:"signature"`
	CreatedAt uint64          `json:"created_at"`
	ExpiresAt *uint64         `json:"expires_at"`
}

// SyncMempool pulls the remote mempool snapshot, inserting only entries not
// already pending locally nor already confirmed, computing priority_score
// the same way the local mining loop does (spec.md §4.F).
func (r *Replicator) SyncMempool(ctx context.Context, base string) (int, error) {
	resp, err := r.client.Get(ctx, peerclient.MempoolURL(base), r.cfg.FetchTimeout)
	if err != nil {
		return 0, err
	}
	var rows []wireMempoolEntry
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &rows); err != nil {
		return 0, err
	}
	n := 0
	for _, w := range rows {
		hash, err := model.ParseH256(w.Hash)
		if err != nil {
			continue
		}
		e := model.MempoolEntry{
			Transaction: model.Transaction{
				Hash:      hash,
				From:      model.Addr(w.From),
				To:        model.Addr(w.To),
				Amount:    w.Amount,
				Fee:       w.Fee,
				Nonce:     w.Nonce,
				GasLimit:  w.GasLimit,
				GasUsed:   w.GasUsed,
				GasPrice:  w.GasPrice,
				Data:      w.Data,
				Signature: w.Signature,
				Status:    model.TxPending,
			},
			PriorityScore: model.ComputePriorityScore(w.Fee, w.Amount),
			CreatedAt:     w.CreatedAt,
			ExpiresAt:     w.ExpiresAt,
		}
		inserted, err := r.store.InsertMempoolIfAbsent(ctx, e)
		if err != nil {
			return n, err
		}
		if inserted {
			n++
		}
	}
	return n, nil
}
