package store

import (
	"context"
	"database/sql"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

// UpsertStaking implements spec.md §4.B's terminal-state-freeze MERGE
// semantics: if the existing record's status is withdrawn or completed, the
// row is left untouched entirely; otherwise the incoming record is merged
// taking the MAX of amount/rewards_earned/last_reward_block. Per spec.md §9
// ("prefer explicit conditional logic over embedding it in SQL for
// portability") this is a single transaction doing SELECT -> decide ->
// write, not a MySQL "ON DUPLICATE KEY UPDATE ... IF(status IN ...)"
// one-liner.
func (s *Store) UpsertStaking(ctx context.Context, rec model.StakingRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT amount, reward_rate, status, rewards_earned, last_reward_block
			FROM staking WHERE validator = ? AND staker = ?`, string(rec.Validator), string(rec.Staker))

		var existingAmount, existingRate, existingRewards string
		var existingStatus string
		var existingLastReward uint64
		err := row.Scan(&existingAmount, &existingRate, &existingStatus, &existingRewards, &existingLastReward)

		switch {
		case err == sql.ErrNoRows:
			return insertStaking(ctx, tx, rec)
		case err != nil:
			return syncerrors.New(syncerrors.KindFatalStore, "read existing staking record", err)
		}

		if model.StakingStatus(existingStatus).IsTerminal() {
			// TerminalStateViolation: silently ignored per spec.md §7.
			return nil
		}

		merged := rec
		if mustDecimal(existingAmount).GreaterThan(rec.Amount) {
			merged.Amount = mustDecimal(existingAmount)
		}
		if mustDecimal(existingRewards).GreaterThan(rec.RewardsEarned) {
			merged.RewardsEarned = mustDecimal(existingRewards)
		}
		if existingLastReward > merged.LastRewardBlock {
			merged.LastRewardBlock = existingLastReward
		}

		return updateStaking(ctx, tx, merged)
	})
}

func insertStaking(ctx context.Context, tx *sql.Tx, rec model.StakingRecord) error {
	var endBlock sql.NullInt64
	if rec.EndBlock != nil {
		endBlock = sql.NullInt64{Int64: int64(*rec.EndBlock), Valid: true}
	}
	var contract sql.NullString
	if rec.ContractAddress != nil {
		contract = sql.NullString{String: string(*rec.ContractAddress), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO staking
			(validator, staker, amount, reward_rate, start_block, end_block, status,
			 rewards_earned, last_reward_block, contract_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Validator), string(rec.Staker), rec.Amount.String(), rec.RewardRate.String(),
		rec.StartBlock, endBlock, string(rec.Status), rec.RewardsEarned.String(), rec.LastRewardBlock, contract)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "insert staking record", err)
	}
	return nil
}

func updateStaking(ctx context.Context, tx *sql.Tx, rec model.StakingRecord) error {
	var endBlock sql.NullInt64
	if rec.EndBlock != nil {
		endBlock = sql.NullInt64{Int64: int64(*rec.EndBlock), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE staking
		SET amount = ?, reward_rate = ?, end_block = ?, status = ?, rewards_earned = ?, last_reward_block = ?
		WHERE validator = ? AND staker = ?`,
		rec.Amount.String(), rec.RewardRate.String(), endBlock, string(rec.Status),
		rec.RewardsEarned.String(), rec.LastRewardBlock, string(rec.Validator), string(rec.Staker))
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "update staking record", err)
	}
	return nil
}
