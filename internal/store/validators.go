package store

import (
	"context"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

// UpsertValidator inserts or updates a validator record by address. Monotone
// counters (blocks_produced/blocks_missed) take the max of existing and
// incoming to stay idempotent under replay.
func (s *Store) UpsertValidator(ctx context.Context, v model.Validator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validators
			(address, public_key, stake, delegated_stake, commission_rate, status,
			 blocks_produced, blocks_missed, last_active_block, jail_until_block, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			public_key = VALUES(public_key),
			stake = VALUES(stake),
			delegated_stake = VALUES(delegated_stake),
			commission_rate = VALUES(commission_rate),
			status = VALUES(status),
			blocks_produced = GREATEST(validators.blocks_produced, VALUES(blocks_produced)),
			blocks_missed = GREATEST(validators.blocks_missed, VALUES(blocks_missed)),
			last_active_block = GREATEST(validators.last_active_block, VALUES(last_active_block)),
			jail_until_block = VALUES(jail_until_block),
			metadata = VALUES(metadata)`,
		string(v.Address), v.PublicKey, v.Stake.String(), v.DelegatedStake.String(), v.CommissionRate.String(),
		string(v.Status), v.BlocksProduced, v.BlocksMissed, v.LastActiveBlock, v.JailUntilBlock, v.Metadata)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "upsert validator", err)
	}
	return nil
}

// ActiveValidatorsWithMinBalance lists validators eligible for block
// production: status='active' and wallet balance >= minBalance (spec.md
// §4.I mine step 3).
func (s *Store) ActiveValidatorsWithMinBalance(ctx context.Context, minBalance int64) ([]model.Validator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.address, v.public_key, v.stake, v.delegated_stake, v.commission_rate, v.status,
		       v.blocks_produced, v.blocks_missed, v.last_active_block, v.jail_until_block, v.metadata
		FROM validators v
		JOIN wallets w ON w.address = v.address
		WHERE v.status = 'active' AND w.balance >= ?`, minBalance)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindFatalStore, "list eligible validators", err)
	}
	defer rows.Close()

	var out []model.Validator
	for rows.Next() {
		var v model.Validator
		var addr, status string
		var stake, delegated, commission string
		if err := rows.Scan(&addr, &v.PublicKey, &stake, &delegated, &commission, &status,
			&v.BlocksProduced, &v.BlocksMissed, &v.LastActiveBlock, &v.JailUntilBlock, &v.Metadata); err != nil {
			return nil, syncerrors.New(syncerrors.KindFatalStore, "scan validator", err)
		}
		v.Address = model.Addr(addr)
		v.Status = model.ValidatorStatus(status)
		v.Stake = mustDecimal(stake)
		v.DelegatedStake = mustDecimal(delegated)
		v.CommissionRate = mustDecimal(commission)
		out = append(out, v)
	}
	return out, rows.Err()
}
