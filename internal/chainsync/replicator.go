// Package chainsync implements spec.md §4.D, the Chain Replicator: genesis
// bootstrap, fork detection, common-ancestor rollback, and forward block
// sync with a batched -> per-block -> paginated fallback chain.
package chainsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"chainsyncd/internal/config"
	"chainsyncd/internal/model"
	"chainsyncd/internal/peerclient"
	"chainsyncd/internal/store"
	"chainsyncd/internal/syncerrors"
)

// Replicator drives one round of chain synchronization against a chosen
// source peer.
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

// wireBlock is the peer-explorer JSON shape for a single block.
type wireBlock struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  uint64 `json:"timestamp"`
	Validator  string `json:"validator"`
	Signature  string `json:"signature"`
	TxCount    uint32 `json:"tx_count"`
	Metadata   json.RawMessage `json:"metadata"`
}

func (w wireBlock) toModel() (model.Block, error) {
	var b model.Block
	var err error
	if b.Hash, err = model.ParseH256(w.Hash); err != nil {
		return b, syncerrors.New(syncerrors.KindDecode, "block hash", err)
	}
	if b.ParentHash, err = model.ParseH256(w.ParentHash); err != nil {
		return b, syncerrors.New(syncerrors.KindDecode, "block parent_hash", err)
	}
	if b.MerkleRoot, err = model.ParseH256(w.MerkleRoot); err != nil {
		return b, syncerrors.New(syncerrors.KindDecode, "block merkle_root", err)
	}
	b.Height = w.Height
	b.Timestamp = w.Timestamp
	b.Validator = model.Addr(w.Validator)
	b.TxCount = w.TxCount
	b.Metadata = w.Metadata
	if w.Signature != "" {
		b.Signature = []byte(w.Signature)
	}
	return b, nil
}

// Sync runs one full replication pass against sourceBase, which the caller
// obtained from the peer selector (spec.md §4.C).
func (r *Replicator) Sync(ctx context.Context, sourceBase string) error {
	if err := r.syncGenesis(ctx, sourceBase); err != nil {
		return err
	}

	hLocal, _, err := r.store.MaxHeight(ctx)
	if err != nil {
		return err
	}
	hSrc, err := r.remoteTip(ctx, sourceBase)
	if err != nil {
		return err
	}
	if hSrc <= hLocal {
		return nil
	}

	ancestor, forked, err := r.checkFork(ctx, sourceBase, hLocal)
	if err != nil {
		return err
	}
	if forked {
		r.logger.WithFields(logrus.Fields{"common_ancestor": ancestor, "local_tip": hLocal}).
			Warn("fork detected, rolling back to common ancestor")
		if hLocal-ancestor > r.cfg.SyncMaxReorgDepth {
			r.logger.WithFields(logrus.Fields{"depth": hLocal - ancestor, "max": r.cfg.SyncMaxReorgDepth}).
				Warn("reorg depth exceeds configured guard rail, proceeding anyway")
		}
		if err := r.store.DeleteBlocksAbove(ctx, ancestor); err != nil {
			return err
		}
		if err := r.store.DeleteOrphanTransactions(ctx); err != nil {
			return err
		}
		hLocal = ancestor
	}

	return r.forwardSync(ctx, sourceBase, hLocal+1, hSrc)
}

func (r *Replicator) syncGenesis(ctx context.Context, base string) error {
	has, err := r.store.HasBlockZero(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	b, err := r.fetchBlock(ctx, base, 0)
	if err != nil {
		return err
	}
	_, err = r.store.InsertBlockIfAbsent(ctx, b)
	return err
}

func (r *Replicator) remoteTip(ctx context.Context, base string) (uint64, error) {
	resp, err := r.client.Get(ctx, peerclient.NetworkStatsURL(base), r.cfg.ProbeTimeout)
	if err != nil {
		return 0, err
	}
	var stats struct {
		Height uint64 `json:"height"`
	}
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &stats); err != nil {
		return 0, err
	}
	return stats.Height, nil
}

// checkFork compares local and remote hashes over heights
// max(0,hLocal-5)..hLocal (spec.md §4.D point 3) and, on mismatch, runs a linear common-ancestor
// scan from 0 upward (point 4).
func (r *Replicator) checkFork(ctx context.Context, base string, hLocal uint64) (ancestor uint64, forked bool, err error) {
	start := uint64(0)
	if hLocal > 5 {
		start = hLocal - 5
	}

	mismatchAt := uint64(0)
	foundMismatch := false
	for h := start; h <= hLocal; h++ {
		localHash, err := r.store.BlockHashAt(ctx, h)
		if err != nil {
			return 0, false, err
		}
		remoteHash, err := r.fetchHash(ctx, base, h)
		if err != nil {
			return 0, false, err
		}
		if localHash != remoteHash {
			mismatchAt = h
			foundMismatch = true
			break
		}
	}
	if !foundMismatch {
		return hLocal, false, nil
	}

	// Common-ancestor search: linear scan from 0 upward until the first
	// mismatch; the last matching height is the ancestor.
	last := uint64(0)
	for h := uint64(0); h < mismatchAt; h++ {
		localHash, err := r.store.BlockHashAt(ctx, h)
		if err != nil {
			return 0, false, err
		}
		remoteHash, err := r.fetchHash(ctx, base, h)
		if err != nil {
			return 0, false, err
		}
		if localHash != remoteHash {
			break
		}
		last = h
	}
	return last, true, nil
}

func (r *Replicator) fetchHash(ctx context.Context, base string, height uint64) (model.H256, error) {
	b, err := r.fetchBlock(ctx, base, height)
	if err != nil {
		return model.H256{}, err
	}
	return b.Hash, nil
}

func (r *Replicator) fetchBlock(ctx context.Context, base string, height uint64) (model.Block, error) {
	resp, err := r.client.Get(ctx, peerclient.BlockURL(base, height), r.cfg.FetchTimeout)
	if err != nil {
		return model.Block{}, err
	}
	var w wireBlock
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &w); err != nil {
		return model.Block{}, err
	}
	return w.toModel()
}

// forwardSync inserts blocks [from..to] ascending, trying the batched range
// endpoint first, then per-block fetch, then paginated get_all_blocks, per
// spec.md §4.D point 6. Failure at height h aborts the run but leaves
// [from..h-1] intact; the caller's next round resumes from MAX(height)+1.
func (r *Replicator) forwardSync(ctx context.Context, base string, from, to uint64) error {
	if from > to {
		return nil
	}

	if err := r.forwardSyncBatched(ctx, base, from, to); err == nil {
		return nil
	}
	r.logger.Debug("batched range sync unavailable, falling back to per-block fetch")

	if err := r.forwardSyncSingle(ctx, base, from, to); err == nil {
		return nil
	}
	r.logger.Debug("per-block sync failed, falling back to paginated sweep")

	return r.forwardSyncPaginated(ctx, base, from, to)
}

func (r *Replicator) forwardSyncBatched(ctx context.Context, base string, from, to uint64) error {
	for s := from; s <= to; s += 500 {
		e := s + 499
		if e > to {
			e = to
		}
		resp, err := r.client.Get(ctx, peerclient.BlocksRangeURL(base, s, e), r.cfg.FetchTimeout)
		if err != nil {
			return err
		}
		var blocks []wireBlock
		if _, err := peerclient.DecodeEnvelope(resp.JSON, &blocks); err != nil {
			return err
		}
		if len(blocks) == 0 {
			return syncerrors.New(syncerrors.KindDecode, "empty batched range response", nil)
		}
		for _, wb := range blocks {
			b, err := wb.toModel()
			if err != nil {
				return err
			}
			if _, err := r.store.InsertBlockIfAbsent(ctx, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Replicator) forwardSyncSingle(ctx context.Context, base string, from, to uint64) error {
	for h := from; h <= to; h++ {
		b, err := r.fetchBlock(ctx, base, h)
		if err != nil {
			return fmt.Errorf("fetch block %d: %w", h, err)
		}
		if _, err := r.store.InsertBlockIfAbsent(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replicator) forwardSyncPaginated(ctx context.Context, base string, from, to uint64) error {
	const pageSize = 100
	page := 1
	inserted := make(map[uint64]bool)
	for {
		resp, err := r.client.Get(ctx, peerclient.AllBlocksURL(base, page, pageSize), r.cfg.FetchTimeout)
		if err != nil {
			return err
		}
		var blocks []wireBlock
		pg, err := peerclient.DecodeEnvelope(resp.JSON, &blocks)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			break
		}
		for _, wb := range blocks {
			if wb.Height < from || wb.Height > to || inserted[wb.Height] {
				continue
			}
			b, err := wb.toModel()
			if err != nil {
				return err
			}
			if _, err := r.store.InsertBlockIfAbsent(ctx, b); err != nil {
				return err
			}
			inserted[wb.Height] = true
		}
		if pg == nil || !pg.HasMore {
			break
		}
		page++
	}
	return nil
}
