package store

import (
	"context"
	"database/sql"
	"errors"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

// MaxHeight returns the local chain tip height, or 0 with ok=false when the
// blocks table is empty (spec.md GLOSSARY "Tip").
func (s *Store) MaxHeight(ctx context.Context) (height uint64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`)
	var h sql.NullInt64
	if err := row.Scan(&h); err != nil {
		return 0, false, syncerrors.New(syncerrors.KindFatalStore, "max height", err)
	}
	if !h.Valid {
		return 0, false, nil
	}
	return uint64(h.Int64), true, nil
}

// HasBlockZero reports whether the genesis block is present (spec.md §4.D
// point 2, "genesis step").
func (s *Store) HasBlockZero(ctx context.Context) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blocks WHERE height = 0`)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, syncerrors.New(syncerrors.KindFatalStore, "has genesis", err)
	}
	return n > 0, nil
}

// BlockHashAt returns the hash of the local block at height, or
// sql.ErrNoRows-wrapped if absent.
func (s *Store) BlockHashAt(ctx context.Context, height uint64) (model.H256, error) {
	row := s.db.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE height = ?`, height)
	var hex string
	if err := row.Scan(&hex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.H256{}, err
		}
		return model.H256{}, syncerrors.New(syncerrors.KindFatalStore, "block hash at height", err)
	}
	return model.ParseH256(hex)
}

// InsertBlockIfAbsent is a no-op if a block with the same height or hash
// already exists (spec.md §4.B). It returns inserted=false on the no-op
// path so callers can distinguish a true insert from an idempotent replay.
func (s *Store) InsertBlockIfAbsent(ctx context.Context, b model.Block) (inserted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM blocks WHERE height = ? OR hash = ?`, b.Height, b.Hash.Hex())
		var n int
		if err := row.Scan(&n); err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "check block existence", err)
		}
		if n > 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blocks (height, hash, parent_hash, merkle_root, timestamp, validator, signature, tx_count, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.Height, b.Hash.Hex(), b.ParentHash.Hex(), b.MerkleRoot.Hex(), b.Timestamp,
			string(b.Validator), b.Signature, b.TxCount, b.Metadata)
		if err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "insert block", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// DeleteBlocksAbove deletes all blocks with height > h (spec.md §4.D point 5
// rollback path).
func (s *Store) DeleteBlocksAbove(ctx context.Context, h uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE height > ?`, h)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "delete blocks above", err)
	}
	return nil
}

// DeleteOrphanTransactions deletes transactions of any status whose
// block_hash no longer references an existing block, following a rollback (spec.md
// §4.D point 5, §4.B).
func (s *Store) DeleteOrphanTransactions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE block_hash IS NOT NULL
		  AND block_hash NOT IN (SELECT hash FROM blocks)`)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "delete orphan transactions", err)
	}
	return nil
}

// RecalculateBlockTxCounts recomputes blocks.tx_count from confirmed
// transactions (spec.md §8 property 2).
func (s *Store) RecalculateBlockTxCounts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE blocks b
		SET tx_count = (
			SELECT COUNT(1) FROM transactions t
			WHERE t.block_hash = b.hash AND t.status = 'confirmed'
		)`)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "recalculate tx counts", err)
	}
	return nil
}

// GetBlockByHeight fetches a single local block, including parent linkage
// fields, for continuity checks (spec.md §8 property 1).
func (s *Store) GetBlockByHeight(ctx context.Context, height uint64) (model.Block, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT height, hash, parent_hash, merkle_root, timestamp, validator, signature, tx_count, metadata
		FROM blocks WHERE height = ?`, height)
	return scanBlock(row)
}

func scanBlock(row *sql.Row) (model.Block, error) {
	var b model.Block
	var hashHex, parentHex, merkleHex, validator string
	if err := row.Scan(&b.Height, &hashHex, &parentHex, &merkleHex, &b.Timestamp,
		&validator, &b.Signature, &b.TxCount, &b.Metadata); err != nil {
		return model.Block{}, err
	}
	var err error
	if b.Hash, err = model.ParseH256(hashHex); err != nil {
		return model.Block{}, err
	}
	if b.ParentHash, err = model.ParseH256(parentHex); err != nil {
		return model.Block{}, err
	}
	if b.MerkleRoot, err = model.ParseH256(merkleHex); err != nil {
		return model.Block{}, err
	}
	b.Validator = model.Addr(validator)
	return b, nil
}
