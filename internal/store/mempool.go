package store

import (
	"context"
	"database/sql"
	"time"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

// InsertMempoolIfAbsent inserts a pulled remote mempool entry only if its
// hash is neither already pending nor already confirmed (spec.md §4.F).
func (s *Store) InsertMempoolIfAbsent(ctx context.Context, e model.MempoolEntry) (inserted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		// One row holding the sum of both counts: nonzero if the hash is
		// already in the mempool or already confirmed.
		row := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(1) FROM mempool WHERE tx_hash = ?) +
				(SELECT COUNT(1) FROM transactions WHERE hash = ? AND status = 'confirmed')`,
			e.Hash.Hex(), e.Hash.Hex())
		if err := row.Scan(&n); err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "check mempool dup", err)
		}
		if n > 0 {
			return nil
		}

		var expires sql.NullTime
		if e.ExpiresAt != nil {
			expires = sql.NullTime{Time: time.Unix(int64(*e.ExpiresAt), 0), Valid: true}
		}
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO mempool
				(tx_hash, from_address, to_address, amount, fee, nonce, gas_limit, gas_used, gas_price,
				 data, signature, status, priority_score, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Hash.Hex(), string(e.From), string(e.To), e.Amount.String(), e.Fee.String(), e.Nonce,
			e.GasLimit, e.GasUsed, e.GasPrice.String(), e.Data, e.Signature, string(e.Status),
			e.PriorityScore, time.Unix(int64(e.CreatedAt), 0), expires)
		// last_retry_at starts NULL; MarkMempoolProcessing sets it when the
		// mining loop picks the entry up.
		if execErr != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "insert mempool entry", execErr)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// TopMempoolEntries returns up to n pending mempool entries ordered by
// (priority_score desc, fee desc, created_at asc), excluding already-expired
// rows (spec.md §4.I mine step 2).
func (s *Store) TopMempoolEntries(ctx context.Context, n int, now time.Time) ([]model.MempoolEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, from_address, to_address, amount, fee, nonce, gas_limit, gas_used, gas_price,
		       data, signature, status, priority_score, created_at, expires_at
		FROM mempool
		WHERE status = 'pending' AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY priority_score DESC, fee DESC, created_at ASC
		LIMIT ?`, now, n)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindFatalStore, "top mempool entries", err)
	}
	defer rows.Close()
	return scanMempoolRows(rows)
}

func scanMempoolRows(rows *sql.Rows) ([]model.MempoolEntry, error) {
	var out []model.MempoolEntry
	for rows.Next() {
		var e model.MempoolEntry
		var hashHex, from, to, amount, fee, gasPrice, status string
		var createdAt time.Time
		var expiresAt sql.NullTime
		if err := rows.Scan(&hashHex, &from, &to, &amount, &fee, &e.Nonce, &e.GasLimit, &e.GasUsed,
			&gasPrice, &e.Data, &e.Signature, &status, &e.PriorityScore, &createdAt, &expiresAt); err != nil {
			return nil, syncerrors.New(syncerrors.KindFatalStore, "scan mempool row", err)
		}
		h, err := model.ParseH256(hashHex)
		if err != nil {
			continue
		}
		e.Hash = h
		e.From = model.Addr(from)
		e.To = model.Addr(to)
		e.Amount = mustDecimal(amount)
		e.Fee = mustDecimal(fee)
		e.GasPrice = mustDecimal(gasPrice)
		e.Status = model.TxStatus(status)
		e.CreatedAt = uint64(createdAt.Unix())
		if expiresAt.Valid {
			ts := uint64(expiresAt.Time.Unix())
			e.ExpiresAt = &ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkMempoolProcessing flags the given entries as in-flight for the mining
// loop's current block attempt, stamping last_retry_at so a failed attempt
// that never reaches RemoveMempoolByHash is recovered by JanitorSweep's
// stall-recovery step instead of blocking the slot forever.
func (s *Store) MarkMempoolProcessing(ctx context.Context, hashes []model.H256, now time.Time) error {
	if len(hashes) == 0 {
		return nil
	}
	for _, h := range hashes {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE mempool SET status = 'processing', last_retry_at = ? WHERE tx_hash = ?`, now, h.Hex()); err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "mark mempool processing", err)
		}
	}
	return nil
}

// RemoveMempoolByHash deletes mempool rows by hash (spec.md §4.I mine step
// 6: "remove those tx_hashes from mempool").
func (s *Store) RemoveMempoolByHash(ctx context.Context, hashes []model.H256) error {
	if len(hashes) == 0 {
		return nil
	}
	for _, h := range hashes {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM mempool WHERE tx_hash = ?`, h.Hex()); err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "remove mempool entry", err)
		}
	}
	return nil
}

// JanitorResult holds the per-step row counts that JanitorSweep, the single
// transactional mempool maintenance sweep of spec.md §4.H, returns for
// observability.
type JanitorResult struct {
	ExpiredDeleted     int64
	ConfirmedDeleted   int64
	DuplicatesDeleted  int64
	StaleMarkedFailed  int64
	OldFailedDeleted   int64
}

// MempoolStatusSummary counts mempool rows by status, for the `mempool` CLI
// command and the served get_mempool_status endpoint.
func (s *Store) MempoolStatusSummary(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM mempool GROUP BY status`)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindFatalStore, "mempool status summary", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, syncerrors.New(syncerrors.KindFatalStore, "scan mempool status row", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) JanitorSweep(ctx context.Context, now time.Time, ttl, processingStall, failedRetention time.Duration) (JanitorResult, error) {
	var res JanitorResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ttlCutoff := now.Add(-ttl)

		r, err := tx.ExecContext(ctx, `
			DELETE FROM mempool
			WHERE (expires_at IS NOT NULL AND expires_at < ?)
			   OR (created_at < ? AND status IN ('pending', 'failed'))`, now, ttlCutoff)
		if err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "janitor: expire", err)
		}
		res.ExpiredDeleted, _ = r.RowsAffected()

		r, err = tx.ExecContext(ctx, `
			DELETE FROM mempool
			WHERE tx_hash IN (SELECT hash FROM transactions WHERE status = 'confirmed')`)
		if err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "janitor: confirmed", err)
		}
		res.ConfirmedDeleted, _ = r.RowsAffected()

		r, err = tx.ExecContext(ctx, `
			DELETE m1 FROM mempool m1
			JOIN mempool m2
			  ON m1.from_address = m2.from_address
			 AND m1.nonce = m2.nonce
			 AND m1.created_at < m2.created_at`)
		if err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "janitor: dedup nonce", err)
		}
		res.DuplicatesDeleted, _ = r.RowsAffected()

		stallCutoff := now.Add(-processingStall)
		r, err = tx.ExecContext(ctx, `
			UPDATE mempool SET status = 'failed'
			WHERE status = 'processing' AND last_retry_at IS NOT NULL AND last_retry_at < ?`, stallCutoff)
		if err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "janitor: stall recovery", err)
		}
		res.StaleMarkedFailed, _ = r.RowsAffected()

		failedCutoff := now.Add(-failedRetention)
		r, err = tx.ExecContext(ctx, `DELETE FROM mempool WHERE status = 'failed' AND created_at < ?`, failedCutoff)
		if err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "janitor: old failed", err)
		}
		res.OldFailedDeleted, _ = r.RowsAffected()
		return nil
	})
	return res, err
}
