package store

import (
	"context"
	"database/sql"

	"chainsyncd/internal/model"
	"chainsyncd/internal/syncerrors"
)

// UpsertNode inserts or updates a peer node record.
func (s *Store) UpsertNode(ctx context.Context, n model.NodeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (node_id, ip, port, protocol, domain, public_key, version, status, last_seen, reputation_score, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			ip = VALUES(ip), port = VALUES(port), protocol = VALUES(protocol), domain = VALUES(domain),
			public_key = VALUES(public_key), version = VALUES(version), status = VALUES(status),
			last_seen = VALUES(last_seen), metadata = VALUES(metadata)`,
		n.NodeID, n.IP, n.Port, n.Protocol, n.Domain, n.PublicKey, n.Version, string(n.Status),
		n.LastSeen, model.ClampReputation(n.ReputationScore), n.Metadata)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "upsert node", err)
	}
	return nil
}

// ActiveNodes lists nodes with status='active', for peer selection
// (spec.md §4.C point 1).
func (s *Store) ActiveNodes(ctx context.Context) ([]model.NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, ip, port, protocol, domain, public_key, version, status, last_seen, reputation_score, metadata
		FROM nodes WHERE status = 'active'`)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindFatalStore, "list active nodes", err)
	}
	defer rows.Close()

	var out []model.NodeRecord
	for rows.Next() {
		var n model.NodeRecord
		var status string
		if err := rows.Scan(&n.NodeID, &n.IP, &n.Port, &n.Protocol, &n.Domain, &n.PublicKey,
			&n.Version, &status, &n.LastSeen, &n.ReputationScore, &n.Metadata); err != nil {
			return nil, syncerrors.New(syncerrors.KindFatalStore, "scan node", err)
		}
		n.Status = model.NodeStatus(status)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ApplyReputationDelta performs a serialized read-modify-write of a node's
// reputation_score, clamped to [0,100] (spec.md §3, §5, §8 property 7). The
// row lock (SELECT ... FOR UPDATE) totally orders concurrent reward/penalty
// applications on the same node.
func (s *Store) ApplyReputationDelta(ctx context.Context, nodeID string, delta int) (newScore int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT reputation_score FROM nodes WHERE node_id = ? FOR UPDATE`, nodeID)
		var current int
		if err := row.Scan(&current); err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "read reputation for update", err)
		}
		newScore = model.ClampReputation(current + delta)
		_, err := tx.ExecContext(ctx, `UPDATE nodes SET reputation_score = ? WHERE node_id = ?`, newScore, nodeID)
		if err != nil {
			return syncerrors.New(syncerrors.KindFatalStore, "write reputation", err)
		}
		return nil
	})
	return newScore, err
}
