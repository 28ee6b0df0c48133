package store

import (
	"context"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

// UpsertSmartContract inserts or updates an opaque contract record
// (spec.md §1: contract bytecode/behavior is opaque passthrough).
func (s *Store) UpsertSmartContract(ctx context.Context, c model.SmartContract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO smart_contracts (address, creator, code_hash, bytecode, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE bytecode = VALUES(bytecode), metadata = VALUES(metadata)`,
		string(c.Address), string(c.Creator), c.CodeHash.Hex(), c.Bytecode, c.CreatedAt, c.Metadata)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "upsert smart contract", err)
	}
	return nil
}
