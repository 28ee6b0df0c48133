// Package mining implements spec.md §4.I, the PoS Mining Loop: deterministic
// leader election by time-slot, a pre-mine sync guard, block assembly from
// the mempool, local persistence, and broadcast via the outbound package.
package mining

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"chainsyncd/internal/chainsync"
	"chainsyncd/internal/config"
	"chainsyncd/internal/model"
	"chainsyncd/internal/peers"
	"chainsyncd/internal/store"
	"chainsyncd/internal/syncerrors"
)

// State enumerates the §4.I mining state machine.
type State string

const (
	StateIdle        State = "IDLE"
	StateSyncGuard   State = "SYNC_GUARD"
	StateLeaderCheck State = "LEADER_CHECK"
	StateMine        State = "MINE"
	StateWait        State = "WAIT"
	StateBroadcast   State = "BROADCAST"
	StateVerify      State = "VERIFY"
)

// Broadcaster is the minimal surface the mining loop needs from the
// broadcast package (§4.J), kept as an interface to avoid an import cycle
// between mining and broadcast.
type Broadcaster interface {
	Announce(ctx context.Context, b model.Block) error
}

// SystemValidatorManager creates a fallback validator when no eligible
// candidate exists (spec.md §4.I point 3, "create a system validator via
// external manager"); chainsyncd's own validator set is the manager.
type SystemValidatorManager interface {
	EnsureSystemValidator(ctx context.Context) (model.Validator, error)
}

type Loop struct {
	store       *store.Store
	replicator  *chainsync.Replicator
	selector    *peers.Selector
	broadcaster Broadcaster
	sysValidators SystemValidatorManager
	cfg         *config.Config
	clock       clock.Clock
	logger      *logrus.Logger

	selfID     string
	lastBlock  time.Time
}

type Option func(*Loop)

// WithClock overrides the loop's clock, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

func New(st *store.Store, repl *chainsync.Replicator, sel *peers.Selector, bc Broadcaster,
	sv SystemValidatorManager, cfg *config.Config, selfID string, logger *logrus.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Loop{
		store: st, replicator: repl, selector: sel, broadcaster: bc, sysValidators: sv,
		cfg: cfg, clock: clock.New(), selfID: selfID, logger: logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Tick runs one pass of the state machine. Callers drive the loop's cadence
// (spec.md §5: "mining leader check every 5s").
func (l *Loop) Tick(ctx context.Context) (State, error) {
	now := l.clock.Now()

	if l.inQuickSyncWindow(now) {
		return StateIdle, nil
	}

	leader, err := l.electLeader(ctx, now)
	if err != nil {
		return StateIdle, err
	}
	if leader != l.selfID {
		return StateWait, nil
	}

	if !l.lastBlock.IsZero() && now.Sub(l.lastBlock) < time.Duration(l.cfg.MiningIntervalS)*time.Second {
		return StateWait, nil
	}

	if err := l.syncGuard(ctx); err != nil {
		return StateSyncGuard, err
	}

	b, removed, err := l.mine(ctx)
	if err != nil {
		if syncerrors.Is(err, syncerrors.ErrConflictingLocal) {
			l.logger.Warn("tip advanced mid-mine, aborting this attempt")
			return StateIdle, nil
		}
		return StateMine, err
	}
	l.lastBlock = now

	if err := l.broadcaster.Announce(ctx, b); err != nil {
		l.logger.WithFields(logrus.Fields{"height": b.Height}).Warn("broadcast reported an error")
	}
	_ = removed

	return StateIdle, nil
}

// inQuickSyncWindow implements spec.md §4.I: abstain while unix_time mod 60
// falls in [0,5] or [55,59], coordinating with an external 60s sync cron.
func (l *Loop) inQuickSyncWindow(now time.Time) bool {
	m := now.Unix() % 60
	return m <= 5 || m >= 55
}

// electLeader implements spec.md §4.I's deterministic leader election:
// sort all active nodes plus self by id, slot = floor(unix/300), leader =
// sorted[slot mod len].
func (l *Loop) electLeader(ctx context.Context, now time.Time) (string, error) {
	nodes, err := l.store.ActiveNodes(ctx)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(nodes)+1)
	ids = append(ids, l.selfID)
	for _, n := range nodes {
		if n.NodeID != l.selfID {
			ids = append(ids, n.NodeID)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return l.selfID, nil
	}

	slotSeconds := l.cfg.MiningSlotSeconds
	if slotSeconds <= 0 {
		slotSeconds = 300
	}
	slot := now.Unix() / slotSeconds
	idx := int(slot % int64(len(ids)))
	return ids[idx], nil
}

// syncGuard implements spec.md §4.I point 1: never mine ahead of a known
// higher network tip.
func (l *Loop) syncGuard(ctx context.Context) error {
	best, err := l.selector.Best(ctx)
	if err != nil {
		if syncerrors.Is(err, syncerrors.ErrNoPeers) {
			return nil // single-node network: nothing to guard against
		}
		return err
	}
	hLocal, _, err := l.store.MaxHeight(ctx)
	if err != nil {
		return err
	}
	if best.Height <= hLocal {
		return nil
	}
	return l.replicator.Sync(ctx, best.BaseURL)
}

// mine implements spec.md §4.I points 2-6.
func (l *Loop) mine(ctx context.Context) (model.Block, []model.H256, error) {
	now := l.clock.Now()

	entries, err := l.store.TopMempoolEntries(ctx, l.cfg.MiningMaxTx, now)
	if err != nil {
		return model.Block{}, nil, err
	}

	hLocal, hasTip, err := l.store.MaxHeight(ctx)
	if err != nil {
		return model.Block{}, nil, err
	}
	nextHeight := uint64(0)
	var parentHash model.H256
	if hasTip {
		nextHeight = hLocal + 1
		parentHash, err = l.store.BlockHashAt(ctx, hLocal)
		if err != nil {
			return model.Block{}, nil, err
		}
	}

	validator, err := l.selectValidator(ctx, parentHash, nextHeight)
	if err != nil {
		return model.Block{}, nil, err
	}

	hashes := make([]model.H256, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.Hash)
	}
	if err := l.store.MarkMempoolProcessing(ctx, hashes, now); err != nil {
		return model.Block{}, nil, err
	}
	merkleRoot := MerkleRoot(hashes)

	b := model.Block{
		Height:     nextHeight,
		ParentHash: parentHash,
		MerkleRoot: merkleRoot,
		Timestamp:  uint64(now.Unix()),
		Validator:  validator.Address,
		TxCount:    uint32(len(entries)),
	}
	b.Hash = blockHash(b)
	b.Signature = blockSignature(b.Hash, validator.Address)

	if err := l.persist(ctx, b, entries, hLocal, hasTip); err != nil {
		return model.Block{}, nil, err
	}

	if err := l.store.RemoveMempoolByHash(ctx, hashes); err != nil {
		return model.Block{}, nil, err
	}
	return b, hashes, nil
}

// persist implements spec.md §4.I point 5: a single local transaction that
// inserts the block, confirms its transactions (preserving any local
// `invalid` mark), and applies balance effects including the sender nonce
// bump; any error aborts the whole block. The tip is re-checked inside the
// same logical step per spec.md §5's mining/rollback conflict-resolution rule.
func (l *Loop) persist(ctx context.Context, b model.Block, entries []model.MempoolEntry, expectedTip uint64, hadTip bool) error {
	hLocal, hasTip, err := l.store.MaxHeight(ctx)
	if err != nil {
		return err
	}
	if hasTip != hadTip || hLocal != expectedTip {
		return syncerrors.New(syncerrors.KindConflictingLocal, "local tip advanced during mine", nil)
	}

	inserted, err := l.store.InsertBlockIfAbsent(ctx, b)
	if err != nil {
		return err
	}
	if !inserted {
		return syncerrors.New(syncerrors.KindConflictingLocal, "block already present at height", nil)
	}

	touched := map[model.Addr]bool{}
	for _, e := range entries {
		tx := e.Transaction
		tx.Status = model.TxConfirmed
		tx.BlockHash = &b.Hash
		height := b.Height
		tx.BlockHeight = &height
		if _, err := l.store.InsertTransactionIfAbsent(ctx, tx); err != nil {
			return err
		}
		touched[tx.From] = true
		touched[tx.To] = true
	}

	addrs := make([]model.Addr, 0, len(touched))
	for a := range touched {
		addrs = append(addrs, a)
	}
	if len(addrs) > 0 {
		if err := l.store.RebuildWalletCache(ctx, addrs); err != nil {
			return err
		}
		if err := l.store.RecalculateWalletNonces(ctx); err != nil {
			return err
		}
	}
	return l.store.RecalculateBlockTxCounts(ctx)
}

// selectValidator implements spec.md §4.I point 3: PRNG-seeded weighted
// pick by stake over eligible candidates, falling back to a system
// validator when none qualify.
func (l *Loop) selectValidator(ctx context.Context, parentHash model.H256, nextHeight uint64) (model.Validator, error) {
	minBalance := l.cfg.MiningMinValidatorBalance
	candidates, err := l.store.ActiveValidatorsWithMinBalance(ctx, minBalance)
	if err != nil {
		return model.Validator{}, err
	}
	if len(candidates) == 0 {
		if l.sysValidators == nil {
			return model.Validator{}, syncerrors.New(syncerrors.KindConflictingLocal, "no eligible validator and no system validator manager", nil)
		}
		return l.sysValidators.EnsureSystemValidator(ctx)
	}

	seed := prngSeed(parentHash, nextHeight)

	stakes := make([]*big.Int, len(candidates))
	total := big.NewInt(0)
	for i, c := range candidates {
		s := c.Stake.IntPart()
		if s < 0 {
			s = 0
		}
		stakes[i] = big.NewInt(s)
		total.Add(total, stakes[i])
	}
	if total.Sign() == 0 {
		idx := new(big.Int).Mod(seed, big.NewInt(int64(len(candidates))))
		return candidates[idx.Int64()], nil
	}

	target := new(big.Int).Mod(seed, total)
	cum := big.NewInt(0)
	for i, c := range candidates {
		cum.Add(cum, stakes[i])
		if cum.Cmp(target) > 0 {
			return c, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// prngSeed implements spec.md §4.I point 3: the PRNG seed is the first 8
// hex chars of sha256(parent_hash || next_height) interpreted as a uint.
func prngSeed(parentHash model.H256, nextHeight uint64) *big.Int {
	buf := append(append([]byte{}, parentHash[:]...), model.EncodeHeightBE(nextHeight)...)
	sum := sha256.Sum256(buf)
	seedHex := hex.EncodeToString(sum[:])[:8]
	v, _ := new(big.Int).SetString(seedHex, 16)
	if v == nil {
		v = big.NewInt(0)
	}
	return v
}

// MerkleRoot implements spec.md §4.I point 4's merkle construction:
// duplicate the last hash on an odd count, sha256 each adjacent pair,
// iterate until one hash remains.
func MerkleRoot(hashes []model.H256) model.H256 {
	if len(hashes) == 0 {
		return model.H256{}
	}
	level := make([][]byte, len(hashes))
	for i, h := range hashes {
		level[i] = append([]byte{}, h[:]...)
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			sum := sha256.Sum256(append(append([]byte{}, level[i]...), level[i+1]...))
			next = append(next, sum[:])
		}
		level = next
	}
	var out model.H256
	copy(out[:], level[0])
	return out
}

// blockHash implements spec.md §4.I point 4:
// hash = sha256(height || timestamp || parent_hash || merkle_root || validator.address).
func blockHash(b model.Block) model.H256 {
	buf := make([]byte, 0, 8+8+32+32+len(b.Validator))
	buf = append(buf, model.EncodeHeightBE(b.Height)...)
	buf = append(buf, model.EncodeHeightBE(b.Timestamp)...)
	buf = append(buf, b.ParentHash[:]...)
	buf = append(buf, b.MerkleRoot[:]...)
	buf = append(buf, []byte(b.Validator)...)
	return model.SHA256(buf)
}

// blockSignature implements spec.md §4.I point 4: signature = sha256(hash
// || validator.address).
func blockSignature(hash model.H256, validator model.Addr) []byte {
	buf := append(append([]byte{}, hash[:]...), []byte(validator)...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

