// Package scheduler drives the daemon's per-round data flow: Peer Selector
// -> Chain Replicator -> Transaction Replicator -> Auxiliary Replicators ->
// Quorum Verifier -> Mempool Janitor (spec.md §2, §4). The mining loop runs
// independently and is not driven from here.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"chainsyncd/internal/auxsync"
	"chainsyncd/internal/chainsync"
	"chainsyncd/internal/config"
	"chainsyncd/internal/mempool"
	"chainsyncd/internal/model"
	"chainsyncd/internal/peers"
	"chainsyncd/internal/quorum"
	"chainsyncd/internal/store"
	"chainsyncd/internal/txsync"
)

// Scheduler ties one round's components together.
type Scheduler struct {
	store    *store.Store
	selector *peers.Selector
	chain    *chainsync.Replicator
	tx       *txsync.Replicator
	aux      *auxsync.Replicator
	quorum   *quorum.Verifier
	janitor  *mempool.Janitor
	cfg      *config.Config
	selfID   string
	logger   *logrus.Logger
}

func New(st *store.Store, selector *peers.Selector, chain *chainsync.Replicator, tx *txsync.Replicator,
	aux *auxsync.Replicator, q *quorum.Verifier, janitor *mempool.Janitor, cfg *config.Config, selfID string,
	logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		store: st, selector: selector, chain: chain, tx: tx, aux: aux,
		quorum: q, janitor: janitor, cfg: cfg, selfID: selfID, logger: logger,
	}
}

// Result summarizes what one round accomplished, for CLI/status reporting.
type Result struct {
	SourcePeer       string
	TransactionsSynced int
	WalletsSynced    int
	ValidatorsSynced int
	ContractsSynced  int
	StakingSynced    int
	MempoolPulled    int
	JanitorResult    store.JanitorResult
}

// RunRound executes one C->D->E->F->G->H pass. Per spec.md §7's policy,
// per-peer errors never fail the round; only a fully empty accessible peer
// set does (surfaced as syncerrors.ErrNoPeers from the selector).
func (s *Scheduler) RunRound(ctx context.Context) (Result, error) {
	var res Result

	best, err := s.selector.Best(ctx)
	if err != nil {
		return res, err
	}
	res.SourcePeer = best.BaseURL

	if err := s.chain.Sync(ctx, best.BaseURL); err != nil {
		s.logger.WithFields(logrus.Fields{"peer": best.BaseURL, "err": err}).Warn("chain sync step failed this round")
	}

	incResult, err := s.tx.SyncIncremental(ctx, best.BaseURL, best.TotalTransactions)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"peer": best.BaseURL, "err": err}).Warn("transaction sync step failed this round")
	} else {
		res.TransactionsSynced = incResult.Inserted
		if len(incResult.TouchedAddresses) > 0 {
			addrs := make([]model.Addr, 0, len(incResult.TouchedAddresses))
			for a := range incResult.TouchedAddresses {
				addrs = append(addrs, a)
			}
			if err := s.store.RebuildWalletCache(ctx, addrs); err != nil {
				s.logger.WithFields(logrus.Fields{"err": err}).Warn("wallet cache rebuild after tx sync failed")
			}
		}
	}

	if n, err := s.aux.SyncWallets(ctx, best.BaseURL); err == nil {
		res.WalletsSynced = n
	} else {
		s.logger.WithFields(logrus.Fields{"err": err}).Warn("wallet sync step failed this round")
	}
	if n, err := s.aux.SyncValidators(ctx, best.BaseURL); err == nil {
		res.ValidatorsSynced = n
	} else {
		s.logger.WithFields(logrus.Fields{"err": err}).Warn("validator sync step failed this round")
	}
	if n, err := s.aux.SyncSmartContracts(ctx, best.BaseURL); err == nil {
		res.ContractsSynced = n
	} else {
		s.logger.WithFields(logrus.Fields{"err": err}).Warn("contract sync step failed this round")
	}
	if n, err := s.aux.SyncStaking(ctx, best.BaseURL); err == nil {
		res.StakingSynced = n
	} else {
		s.logger.WithFields(logrus.Fields{"err": err}).Warn("staking sync step failed this round")
	}
	if n, err := s.aux.SyncMempool(ctx, best.BaseURL); err == nil {
		res.MempoolPulled = n
	} else {
		s.logger.WithFields(logrus.Fields{"err": err}).Warn("mempool pull step failed this round")
	}

	networkBases, sourceID, err := s.peerTopology(ctx, best.BaseURL)
	if err == nil {
		if err := s.quorum.Verify(ctx, best.BaseURL, sourceID, networkBases); err != nil {
			s.logger.WithFields(logrus.Fields{"err": err}).Warn("quorum verification step failed this round")
		}
	}

	jr, err := s.janitor.Sweep(ctx, time.Now())
	if err != nil {
		s.logger.WithFields(logrus.Fields{"err": err}).Warn("mempool janitor step failed this round")
	}
	res.JanitorResult = jr

	return res, nil
}

// peerTopology enumerates active-node base URLs excluding sourceBase (for
// the quorum verifier's peer sample), and resolves sourceBase back to its
// node_id (for the reputation write the verifier performs against it).
func (s *Scheduler) peerTopology(ctx context.Context, sourceBase string) (others []string, sourceNodeID string, err error) {
	nodes, err := s.store.ActiveNodes(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, n := range nodes {
		base := peers.BaseURLFromNode(n)
		if base == sourceBase {
			sourceNodeID = n.NodeID
			continue
		}
		others = append(others, base)
	}
	return others, sourceNodeID, nil
}
