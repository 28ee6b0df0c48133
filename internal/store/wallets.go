package store

import (
	"context"
	"database/sql"
	"regexp"

	"github.com/shopspring/decimal"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

var addrRe = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// UpsertWallet inserts or updates a wallet's metadata fields (not the
// derived balance/staked_balance, which only RebuildWalletCache touches).
func (s *Store) UpsertWallet(ctx context.Context, w model.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (address, balance, staked_balance, nonce, public_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			nonce = GREATEST(wallets.nonce, VALUES(nonce)),
			public_key = IF(VALUES(public_key) IS NOT NULL AND LENGTH(VALUES(public_key)) > 0, VALUES(public_key), wallets.public_key),
			updated_at = VALUES(updated_at)`,
		string(w.Address), w.Balance.String(), w.StakedBalance.String(), w.Nonce, w.PublicKey, w.UpdatedAt)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "upsert wallet", err)
	}
	return nil
}

// RebuildWalletCache recomputes balance and staked_balance from confirmed
// transactions and active staking (spec.md §4.B, §8 property 3):
//
//	balance       = max(0, Σ credits − Σ debits − Σ fees)
//	staked_balance = Σ amount where staking.status = 'active'
//
// When addresses is nil, every address matching 0x[0-9a-f]{40} found in the
// ledger is rebuilt (the "full rebuild variant" of spec.md §4.B).
// Non-matching inputs are dropped, normalizing to lowercase 0x-prefixed
// 42-char addresses per the §3 Wallet invariant.
func (s *Store) RebuildWalletCache(ctx context.Context, addresses []model.Addr) error {
	normalized := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if p, err := model.ParseAddr(string(a)); err == nil && addrRe.MatchString(string(p)) {
			normalized = append(normalized, string(p))
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var targets []string
		if len(normalized) == 0 && addresses == nil {
			rows, err := tx.QueryContext(ctx, `
				SELECT address FROM (
					SELECT from_address AS address FROM transactions
					UNION SELECT to_address FROM transactions
					UNION SELECT address FROM wallets
				) u WHERE address REGEXP '^0x[0-9a-f]{40}$'`)
			if err != nil {
				return syncerrors.New(syncerrors.KindFatalStore, "enumerate ledger addresses", err)
			}
			defer rows.Close()
			for rows.Next() {
				var a string
				if err := rows.Scan(&a); err != nil {
					return syncerrors.New(syncerrors.KindFatalStore, "scan ledger address", err)
				}
				targets = append(targets, a)
			}
			if err := rows.Err(); err != nil {
				return syncerrors.New(syncerrors.KindFatalStore, "iterate ledger addresses", err)
			}
		} else {
			targets = normalized
		}

		for _, addr := range targets {
			if err := rebuildOneWallet(ctx, tx, addr); err != nil {
				return err
			}
		}
		return nil
	})
}

func rebuildOneWallet(ctx context.Context, tx *sql.Tx, addr string) error {
	credits, err := sumDecimal(ctx, tx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE to_address = ? AND status = 'confirmed'`, addr)
	if err != nil {
		return err
	}
	debits, err := sumDecimal(ctx, tx, `
		SELECT COALESCE(SUM(amount + fee), 0) FROM transactions WHERE from_address = ? AND status = 'confirmed'`, addr)
	if err != nil {
		return err
	}
	staked, err := sumDecimal(ctx, tx, `
		SELECT COALESCE(SUM(amount), 0) FROM staking WHERE staker = ? AND status = 'active'`, addr)
	if err != nil {
		return err
	}

	balance := credits.Sub(debits)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (address, balance, staked_balance, nonce, updated_at)
		VALUES (?, ?, ?, 0, NOW())
		ON DUPLICATE KEY UPDATE balance = VALUES(balance), staked_balance = VALUES(staked_balance), updated_at = VALUES(updated_at)`,
		addr, balance.String(), staked.String())
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "rebuild wallet "+addr, err)
	}
	return nil
}

func sumDecimal(ctx context.Context, tx *sql.Tx, query string, args ...any) (decimal.Decimal, error) {
	row := tx.QueryRowContext(ctx, query, args...)
	var s string
	if err := row.Scan(&s); err != nil {
		return decimal.Zero, syncerrors.New(syncerrors.KindFatalStore, "sum decimal", err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, syncerrors.New(syncerrors.KindDecode, "parse decimal sum", err)
	}
	return d, nil
}
