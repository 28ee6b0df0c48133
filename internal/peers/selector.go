// Package peers implements spec.md §4.C: it enumerates candidate peers from
// the store and config, excludes the local node, probes each candidate
// through the peer client, and ranks the survivors to pick a sync source.
package peers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chainsyncd/internal/config"
	"chainsyncd/internal/model"
	"chainsyncd/internal/peerclient"
	"chainsyncd/internal/store"
	"chainsyncd/internal/syncerrors"
)

// Candidate is a base URL paired with the probe outcome used for ranking.
type Candidate struct {
	BaseURL          string
	Accessible       bool
	LatencyMS        int64
	Height           uint64
	TotalTransactions uint64
}

// Selector picks a sync-source peer per spec.md §4.C.
type Selector struct {
	store  *store.Store
	client *peerclient.Client
	cfg    *config.Config
	selfID string // host:port identity used for self-exclusion
	logger *logrus.Logger
}

// New builds a Selector. selfHostPort is this node's own "host:port" (or
// "host" with an implicit default port), used to exclude itself from its
// own candidate list.
func New(st *store.Store, client *peerclient.Client, cfg *config.Config, selfHostPort string, logger *logrus.Logger) *Selector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Selector{store: st, client: client, cfg: cfg, selfID: strings.ToLower(selfHostPort), logger: logger}
}

// Best runs the full enumerate -> exclude-self -> probe -> rank pipeline and
// returns the top accessible peer. It fails with syncerrors.ErrNoPeers if no
// candidate is reachable.
func (s *Selector) Best(ctx context.Context) (Candidate, error) {
	candidates, err := s.enumerate(ctx)
	if err != nil {
		return Candidate{}, err
	}

	filtered := s.excludeSelf(candidates)
	if len(filtered) == 0 {
		// spec.md §4.C edge case: fall back to the unfiltered list rather
		// than aborting immediately.
		filtered = candidates
	}
	if len(filtered) == 0 {
		return Candidate{}, syncerrors.New(syncerrors.KindNoPeers, "no configured peers", nil)
	}

	probed := s.probeAll(ctx, filtered)

	var accessible []Candidate
	for _, c := range probed {
		if c.Accessible {
			accessible = append(accessible, c)
		}
	}
	if len(accessible) == 0 {
		return Candidate{}, syncerrors.New(syncerrors.KindNoPeers, "no accessible peers", nil)
	}

	sort.Slice(accessible, func(i, j int) bool {
		a, b := accessible[i], accessible[j]
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		if a.TotalTransactions != b.TotalTransactions {
			return a.TotalTransactions > b.TotalTransactions
		}
		return a.LatencyMS < b.LatencyMS
	})
	return accessible[0], nil
}

// enumerate builds the raw candidate list from active nodes, falling back to
// the config's static peer list when the table is empty (spec.md §4.C
// point 1).
func (s *Selector) enumerate(ctx context.Context) ([]string, error) {
	nodes, err := s.store.ActiveNodes(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, n := range nodes {
		out = append(out, BaseURLFromNode(n))
	}
	if len(out) == 0 {
		out = append(out, s.cfg.NetworkNodes...)
	}
	return out, nil
}

// BaseURLFromNode derives a peer's base URL from its node record (spec.md
// §4.C point 1).
func BaseURLFromNode(n model.NodeRecord) string {
	host := n.Domain
	if host == "" {
		host = n.IP
	}
	proto := n.Protocol
	if proto == "" {
		proto = "http"
	}
	if n.Port != 0 {
		return fmt.Sprintf("%s://%s:%d", proto, host, n.Port)
	}
	return fmt.Sprintf("%s://%s", proto, host)
}

// excludeSelf drops any candidate matching this node's (host_lowercase,
// effective_port) identity (spec.md §4.C point 2).
func (s *Selector) excludeSelf(candidates []string) []string {
	if s.selfID == "" {
		return candidates
	}
	var out []string
	for _, c := range candidates {
		self := s.selfID
		if !strings.Contains(self, ":") {
			// Bare host: take the candidate scheme's default port.
			if u, err := url.Parse(c); err == nil {
				self = identity(u.Scheme + "://" + self)
			}
		}
		if identity(c) == self {
			continue
		}
		out = append(out, c)
	}
	return out
}

// identity normalizes a base URL to "host:effective_port", defaulting the
// port to 443 for https and 80 for http per spec.md §4.C point 2.
func identity(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.ToLower(base)
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host + ":" + port
}

// probeAll fans out probes across up to cfg.Concurrency workers (spec.md
// §5's K-bounded peer I/O fan-out).
func (s *Selector) probeAll(ctx context.Context, bases []string) []Candidate {
	k := s.cfg.Concurrency
	if k <= 0 {
		k = 8
	}
	sem := make(chan struct{}, k)
	var wg sync.WaitGroup
	results := make([]Candidate, len(bases))

	for i, base := range bases {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, base string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.probe(ctx, base)
		}(i, base)
	}
	wg.Wait()
	return results
}

// probe implements spec.md §4.C point 3: get_tip_hashes first, falling back
// to get_network_stats then get_network_config on failure.
func (s *Selector) probe(ctx context.Context, base string) Candidate {
	c := Candidate{BaseURL: base}

	probeURL := peerclient.TipHashesURL(base, 0, 1)
	resp, err := s.client.Get(ctx, probeURL, s.cfg.ProbeTimeout)
	if err == nil && resp.OK {
		var th tipHashesResult
		if _, decErr := peerclient.DecodeEnvelope(resp.JSON, &th); decErr == nil {
			c.Accessible = true
			c.LatencyMS = resp.LatencyMS
			c.Height = th.tipHeight()
			return c
		}
	}

	var stats tipStats
	probeURL = peerclient.NetworkStatsURL(base)
	resp, err = s.client.Get(ctx, probeURL, s.cfg.ProbeTimeout)
	if err == nil && resp.OK {
		if _, decErr := peerclient.DecodeEnvelope(resp.JSON, &stats); decErr == nil {
			c.Accessible = true
			c.LatencyMS = resp.LatencyMS
			c.Height = stats.Height
			c.TotalTransactions = stats.TotalTransactions
			return c
		}
	}

	probeURL = peerclient.NetworkConfigURL(base)
	resp, err = s.client.Get(ctx, probeURL, s.cfg.ProbeTimeout)
	if err == nil && resp.OK {
		c.Accessible = true
		c.LatencyMS = resp.LatencyMS
		return c
	}

	s.logger.WithFields(logrus.Fields{"peer": base}).Debug("peer unreachable on all probe endpoints")
	return c
}

// tipStats is the shape returned by get_network_stats, reused by
// RemoteTipHeight below.
type tipStats struct {
	Height            uint64 `json:"height"`
	TotalTransactions uint64 `json:"total_transactions"`
}

// tipHashesResult is the shape returned by get_tip_hashes: an explicit
// height when the peer provides one, plus the height->hash map that
// offset/count always carries (spec.md §4.C point 3, "tip = MAX(height)").
type tipHashesResult struct {
	Height uint64            `json:"height"`
	Hashes map[string]string `json:"hashes"`
}

// tipHeight resolves the peer's own tip height: the explicit field if the
// peer sent one, otherwise the largest height key present in the hash map
// (offset=0&count=1 always returns the single highest entry).
func (r tipHashesResult) tipHeight() uint64 {
	if r.Height != 0 {
		return r.Height
	}
	var max uint64
	for k := range r.Hashes {
		h, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		if h > max {
			max = h
		}
	}
	return max
}

// RemoteTipHeight fetches just the tip height of a specific peer by probing
// get_network_stats; no other endpoint is tried, and a failed or undecodable
// response is returned as an error. Used by the quorum verifier (§4.G) once
// a source peer is already chosen.
func RemoteTipHeight(ctx context.Context, client *peerclient.Client, timeout time.Duration, base string) (uint64, error) {
	resp, err := client.Get(ctx, peerclient.NetworkStatsURL(base), timeout)
	if err != nil {
		return 0, err
	}
	var stats tipStats
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &stats); err != nil {
		return 0, err
	}
	return stats.Height, nil
}
