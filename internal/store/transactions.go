package store

import (
	"context"
	"database/sql"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

// InsertTransactionIfAbsent is a no-op if hash already exists, and never
// overwrites a locally-marked 'invalid' status (spec.md §4.B, §3 invariant
// "locally-marked invalid must survive exact-replication wipes").
func (s *Store) InsertTransactionIfAbsent(ctx context.Context, tx model.Transaction) (inserted bool, err error) {
	err = s.withTx(ctx, func(dbtx *sql.Tx) error {
		var status string
		row := dbtx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE hash = ?`, tx.Hash.Hex())
		scanErr := row.Scan(&status)
		switch {
		case scanErr == sql.ErrNoRows:
			// absent: proceed to insert
		case scanErr != nil:
			return syncerrors.New(syncerrors.KindFatalStore, "check tx existence", scanErr)
		default:
			// present: never overwrite a local 'invalid' mark, and never
			// duplicate-insert otherwise.
			return nil
		}

		blockHash := sql.NullString{}
		if tx.BlockHash != nil {
			blockHash = sql.NullString{String: tx.BlockHash.Hex(), Valid: true}
		}
		blockHeight := sql.NullInt64{}
		if tx.BlockHeight != nil {
			blockHeight = sql.NullInt64{Int64: int64(*tx.BlockHeight), Valid: true}
		}

		_, execErr := dbtx.ExecContext(ctx, `
			INSERT INTO transactions
				(hash, from_address, to_address, amount, fee, nonce, gas_limit, gas_used, gas_price,
				 data, signature, status, block_hash, block_height, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.Hash.Hex(), string(tx.From), string(tx.To), tx.Amount.String(), tx.Fee.String(),
			tx.Nonce, tx.GasLimit, tx.GasUsed, tx.GasPrice.String(), tx.Data, tx.Signature,
			string(tx.Status), blockHash, blockHeight, tx.Timestamp)
		if execErr != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "insert transaction", execErr)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// MarkInvalid locally flags a transaction as invalid; this mark must
// survive exact-replication truncate/reimport cycles (spec.md §4.E exact
// replication step "re-apply invalid marks").
func (s *Store) MarkInvalid(ctx context.Context, hash model.H256) error {
	_, err := s.db.ExecContext(ctx, `UPDATE transactions SET status = 'invalid' WHERE hash = ?`, hash.Hex())
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "mark invalid", err)
	}
	return nil
}

// SnapshotInvalidHashes returns all hashes currently marked invalid, used
// before an exact-replication truncate (spec.md §4.E).
func (s *Store) SnapshotInvalidHashes(ctx context.Context) ([]model.H256, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM transactions WHERE status = 'invalid'`)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindFatalStore, "snapshot invalid hashes", err)
	}
	defer rows.Close()

	var out []model.H256
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, syncerrors.New(syncerrors.KindFatalStore, "scan invalid hash", err)
		}
		h, err := model.ParseH256(hex)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// TruncateTransactions removes all rows from transactions (spec.md §4.E
// exact-replication mode). It is only ever called immediately before a full
// reimport plus invalid-mark reapplication.
func (s *Store) TruncateTransactions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions`)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "truncate transactions", err)
	}
	return nil
}

// RecalculateWalletNonces sets each wallet's nonce to one more than its
// highest confirmed outgoing transaction nonce (spec.md §4.E exact
// replication: "recalc ... wallet nonces").
func (s *Store) RecalculateWalletNonces(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wallets w
		SET nonce = COALESCE((
			SELECT MAX(t.nonce) + 1 FROM transactions t
			WHERE t.from_address = w.address AND t.status = 'confirmed'
		), 0)`)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "recalculate wallet nonces", err)
	}
	return nil
}
