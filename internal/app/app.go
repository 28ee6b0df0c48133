// Package app wires chainsyncd's components together from a loaded config,
// shared by both cmd/chainsyncd and cmd/chainsyncd-intake so neither binary
// has to duplicate construction order.
package app

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"chainsyncd/internal/auxsync"
	"chainsyncd/internal/broadcast"
	"chainsyncd/internal/chainsync"
	"chainsyncd/internal/config"
	"chainsyncd/internal/mempool"
	"chainsyncd/internal/mining"
	"chainsyncd/internal/model"
	"chainsyncd/internal/peerclient"
	"chainsyncd/internal/peers"
	"chainsyncd/internal/quorum"
	"chainsyncd/internal/scheduler"
	"chainsyncd/internal/store"
	"chainsyncd/internal/txsync"
)

// App holds every wired component a CLI subcommand or HTTP handler might
// need.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Client     *peerclient.Client
	Selector   *peers.Selector
	Chain      *chainsync.Replicator
	Tx         *txsync.Replicator
	Aux        *auxsync.Replicator
	Quorum     *quorum.Verifier
	Janitor    *mempool.Janitor
	Scheduler  *scheduler.Scheduler
	Broadcaster *broadcast.Broadcaster
	Dedup      *broadcast.LRUDedup
	Intake     *broadcast.Intake
	Mining     *mining.Loop
	Logger     *logrus.Logger
}

// Build loads config, opens the store, and wires every component. selfHostPort
// is this node's own reachable "host:port" identity, used for peer
// self-exclusion (spec.md §4.C) and leader election (spec.md §4.I).
func Build(selfHostPort string) (*App, error) {
	logger := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel("info"); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}

	activeNodes, err := st.ActiveNodes(context.Background())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(len(activeNodes) > 0); err != nil {
		return nil, err
	}

	client := peerclient.New(
		peerclient.WithSyncToken(cfg.SyncAPIToken),
		peerclient.WithBroadcastSecret(cfg.BroadcastSecret),
		peerclient.WithLogger(logger),
	)

	selector := peers.New(st, client, cfg, selfHostPort, logger)
	chain := chainsync.New(st, client, cfg, logger)
	tx := txsync.New(st, client, cfg, logger)
	aux := auxsync.New(st, client, cfg, logger)
	q := quorum.New(st, client, cfg, logger)
	janitor := mempool.New(st, cfg, logger)

	selfID := cfg.NodeID
	if selfID == "" {
		selfID = selfHostPort
	}

	sched := scheduler.New(st, selector, chain, tx, aux, q, janitor, cfg, selfID, logger)

	peerLister := storeNodePeerLister{store: st}
	bc := broadcast.New(client, peerLister, cfg, selfID, logger)
	dedup := broadcast.NewLRUDedup()
	intake := broadcast.NewIntake(st, chain, dedup, storeNodeResolver{store: st}, cfg.BroadcastSecret, logger)

	sysVal := systemValidatorManager{store: st, selfID: selfID}
	miningLoop := mining.New(st, chain, selector, bc, sysVal, cfg, selfID, logger)

	return &App{
		Config: cfg, Store: st, Client: client, Selector: selector, Chain: chain, Tx: tx, Aux: aux,
		Quorum: q, Janitor: janitor, Scheduler: sched, Broadcaster: bc, Dedup: dedup, Intake: intake,
		Mining: miningLoop, Logger: logger,
	}, nil
}

// storeNodePeerLister adapts the store's active-node list into
// broadcast.PeerLister.
type storeNodePeerLister struct {
	store *store.Store
}

func (p storeNodePeerLister) PeerBases(ctx context.Context) ([]string, error) {
	nodes, err := p.store.ActiveNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, peers.BaseURLFromNode(n))
	}
	return out, nil
}

// storeNodeResolver adapts the store's active-node registry into
// broadcast.NodeResolver, so an inbound announcement's bare source_node id
// can be turned into a dialable base URL for the targeted re-sync.
type storeNodeResolver struct {
	store *store.Store
}

func (r storeNodeResolver) ResolveBase(ctx context.Context, nodeID string) (string, bool, error) {
	nodes, err := r.store.ActiveNodes(ctx)
	if err != nil {
		return "", false, err
	}
	for _, n := range nodes {
		if n.NodeID == nodeID {
			return peers.BaseURLFromNode(n), true, nil
		}
	}
	return "", false, nil
}

// systemValidatorManager implements mining.SystemValidatorManager by
// upserting a single, always-eligible validator derived from this node's own
// identity when no candidate from the real validator set qualifies (spec.md
// §4.I point 3).
type systemValidatorManager struct {
	store  *store.Store
	selfID string
}

func (m systemValidatorManager) EnsureSystemValidator(ctx context.Context) (model.Validator, error) {
	addr := model.SHA256([]byte("system-validator:" + m.selfID))
	v := model.Validator{
		Address: model.Addr("0x" + addr.Hex()[2:42]),
		Stake:   decimal.NewFromInt(1000),
		Status:  model.ValidatorActive,
	}
	if err := m.store.UpsertValidator(ctx, v); err != nil {
		return model.Validator{}, err
	}
	return v, nil
}
