// Package txsync implements spec.md §4.E, the Transaction Replicator: an
// incremental paginated import mode used every round, and an exact
// replication mode that truncates and reimports the full transaction set.
package txsync

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"chainsyncd/internal/config"
	"chainsyncd/internal/model"
	"chainsyncd/internal/peerclient"
	"chainsyncd/internal/store"
	"chainsyncd/internal/syncerrors"
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

type wireTx struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Nonce       uint64          `json:"nonce"`
	GasLimit    uint64          `json:"gas_limit"`
	GasUsed     uint64          `json:"gas_used"`
	GasPrice    decimal.Decimal `json:"gas_price"`
	Data        []byte          `json:"data"`
	Signature   []byte          `json:"signature"`
	Status      string          `json:"status"`
	BlockHash   *string         `json:"block_hash"`
	BlockHeight *uint64         `json:"block_height"`
	Timestamp   uint64          `json:"timestamp"`
}

func (w wireTx) toModel() (model.Transaction, error) {
	var t model.Transaction
	var err error
	if t.Hash, err = model.ParseH256(w.Hash); err != nil {
		return t, syncerrors.New(syncerrors.KindDecode, "tx hash", err)
	}
	t.From = model.Addr(w.From)
	t.To = model.Addr(w.To)
	t.Amount = w.Amount
	t.Fee = w.Fee
	t.Nonce = w.Nonce
	t.GasLimit = w.GasLimit
	t.GasUsed = w.GasUsed
	t.GasPrice = w.GasPrice
	t.Data = w.Data
	t.Signature = w.Signature
	if w.Status == "" {
		t.Status = model.TxConfirmed
	} else {
		t.Status = model.TxStatus(w.Status)
	}
	if w.BlockHash != nil {
		h, err := model.ParseH256(*w.BlockHash)
		if err == nil {
			t.BlockHash = &h
		}
	}
	t.BlockHeight = w.BlockHeight
	t.Timestamp = w.Timestamp
	return t, nil
}

type pageResult struct {
	Items       []wireTx `json:"items"`
	Transactions []wireTx `json:"transactions"`
}

func (p pageResult) rows() []wireTx {
	if len(p.Items) > 0 {
		return p.Items
	}
	return p.Transactions
}

// IncrementalResult reports what an incremental run touched, for the caller
// to pass into a subsequent wallet-cache rebuild.
type IncrementalResult struct {
	Inserted         int
	TouchedAddresses map[model.Addr]bool
}

// SyncIncremental implements spec.md §4.E's default mode.
func (r *Replicator) SyncIncremental(ctx context.Context, base string, remoteTxCount uint64) (IncrementalResult, error) {
	result := IncrementalResult{TouchedAddresses: map[model.Addr]bool{}}

	pageLimit := r.cfg.SyncTxPageLimit
	page := 1
	noNewStreak := 0
	totalInserted := 0
	pagesSinceAnyInsert := 0

	for {
		if r.cfg.SyncMaxTransactionsPerRun > 0 && totalInserted >= r.cfg.SyncMaxTransactionsPerRun {
			break
		}

		rows, hasMore, known, err := r.fetchPage(ctx, base, page, pageLimit)
		if err != nil {
			return result, err
		}
		if len(rows) == 0 {
			break
		}

		insertedThisPage := 0
		for _, w := range rows {
			tx, err := w.toModel()
			if err != nil {
				continue
			}
			ok, err := r.store.InsertTransactionIfAbsent(ctx, tx)
			if err != nil {
				return result, err
			}
			if ok {
				insertedThisPage++
				totalInserted++
				result.TouchedAddresses[tx.From] = true
				result.TouchedAddresses[tx.To] = true
			}
		}

		if insertedThisPage == 0 {
			noNewStreak++
			pagesSinceAnyInsert++
		} else {
			noNewStreak = 0
			pagesSinceAnyInsert = 0
		}

		// Early-stop heuristic (spec.md §4.E): a small remote advantage with
		// repeated empty pages means we're scanning rows we can never insert
		// (FK violations, already-seen data) rather than making progress.
		gap := int64(remoteTxCount) - int64(totalInserted)
		if r.cfg.SyncTxEarlyStopPages > 0 && gap <= 2000 && pagesSinceAnyInsert >= r.cfg.SyncTxEarlyStopPages {
			r.logger.WithFields(logrus.Fields{"page": page, "gap": gap}).
				Debug("early-stop heuristic triggered, aborting incremental sync")
			break
		}

		if known {
			if !hasMore {
				break
			}
		} else if noNewStreak >= r.cfg.SyncTxNoNewStreak {
			break
		}

		page++
	}

	result.Inserted = totalInserted
	return result, nil
}

// fetchPage probes get_all_transactions first, falling back to the legacy
// top-level-array /transactions shape. known reports whether pagination
// metadata was present in the response.
func (r *Replicator) fetchPage(ctx context.Context, base string, page, limit int) (rows []wireTx, hasMore bool, known bool, err error) {
	resp, err := r.client.Get(ctx, peerclient.AllTransactionsURL(base, page, limit), r.cfg.FetchTimeout)
	if err == nil && resp.OK {
		var pr pageResult
		pg, decErr := peerclient.DecodeEnvelope(resp.JSON, &pr)
		if decErr == nil {
			if pg != nil {
				return pr.rows(), pg.HasMore, true, nil
			}
			return pr.rows(), false, false, nil
		}
	}

	resp, err = r.client.Get(ctx, peerclient.LegacyTransactionsURL(base, page, limit), r.cfg.FetchTimeout)
	if err != nil {
		return nil, false, false, err
	}
	var legacy []wireTx
	if _, decErr := peerclient.DecodeEnvelope(resp.JSON, &legacy); decErr != nil {
		return nil, false, false, decErr
	}
	return legacy, false, false, nil
}

// SyncExact implements spec.md §4.E's exact-replication mode: snapshot
// locally-marked-invalid hashes, wipe transactions, reimport from the
// export endpoint, re-apply invalid marks, then fully rebuild wallet state.
func (r *Replicator) SyncExact(ctx context.Context, base string) error {
	invalidHashes, err := r.store.SnapshotInvalidHashes(ctx)
	if err != nil {
		return err
	}

	if err := r.store.TruncateTransactions(ctx); err != nil {
		return err
	}

	resp, err := r.client.Get(ctx, peerclient.ExportTransactionsURL(base), r.cfg.FetchTimeout)
	if err != nil {
		return err
	}
	var rows []wireTx
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &rows); err != nil {
		return err
	}
	for _, w := range rows {
		tx, err := w.toModel()
		if err != nil {
			continue
		}
		if _, err := r.store.InsertTransactionIfAbsent(ctx, tx); err != nil {
			return err
		}
	}

	for _, h := range invalidHashes {
		if err := r.store.MarkInvalid(ctx, h); err != nil {
			return err
		}
	}

	if err := r.store.RebuildWalletCache(ctx, nil); err != nil {
		return err
	}
	if err := r.store.RecalculateWalletNonces(ctx); err != nil {
		return err
	}
	return r.store.RecalculateBlockTxCounts(ctx)
}
