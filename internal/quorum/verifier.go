// Package quorum implements spec.md §4.G: after a replication round, sample
// a handful of other peers, cross-check block hashes near the shared tip,
// and reward or penalize the sync source's reputation accordingly.
package quorum

import (
	"context"
	"crypto/subtle"
	"math/rand"
	"strconv"

	"github.com/sirupsen/logrus"

	"chainsyncd/internal/config"
	"chainsyncd/internal/peerclient"
	"chainsyncd/internal/peers"
	"chainsyncd/internal/store"
)

type Verifier struct {
	store  *store.Store
	client *peerclient.Client
	cfg    *config.Config
	logger *logrus.Logger
}

func New(st *store.Store, client *peerclient.Client, cfg *config.Config, logger *logrus.Logger) *Verifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Verifier{store: st, client: client, cfg: cfg, logger: logger}
}

type hashRangeResult struct {
	Hashes map[string]string `json:"hashes"` // height (as string) -> hex hash
}

// Verify implements the full §4.G pipeline against sourceNodeID, given the
// peer base URLs of the rest of the known network (excluding source).
func (v *Verifier) Verify(ctx context.Context, sourceBase string, sourceNodeID string, networkBases []string) error {
	hLocal, _, err := v.store.MaxHeight(ctx)
	if err != nil {
		return err
	}
	hSrc, err := peers.RemoteTipHeight(ctx, v.client, v.cfg.ProbeTimeout, sourceBase)
	if err != nil {
		return err
	}

	tip := hLocal
	if hSrc < tip {
		tip = hSrc
	}
	depth := v.cfg.QuorumDepth
	if depth == 0 {
		depth = 20
	}
	windowStart := uint64(0)
	if tip+1 > depth {
		windowStart = tip + 1 - depth
	}

	sample := v.chooseSample(networkBases, sourceBase)
	if len(sample) == 0 {
		return nil // asked=0: skipped entirely per spec.md §4.G point 4
	}

	agreed := 0
	for _, p := range sample {
		ok, err := v.agrees(ctx, p, windowStart, tip)
		if err != nil {
			v.logger.WithFields(logrus.Fields{"peer": p}).Debug("quorum peer unreachable, treating as disagreement")
			continue
		}
		if ok {
			agreed++
		}
	}

	asked := len(sample)
	tau := 1.0
	if asked >= 3 {
		tau = 0.51
	}
	ratio := float64(agreed) / float64(asked)

	delta := v.cfg.QuorumReputationUp
	if ratio < tau {
		delta = -v.cfg.QuorumReputationDown
	}
	_, err = v.store.ApplyReputationDelta(ctx, sourceNodeID, delta)
	return err
}

// chooseSample implements spec.md §4.G point 2's network-size rules:
// networks of <=2 nodes include everyone; 3-node networks exclude only the
// source; >=4-node networks exclude self and the source (self is implicit,
// since networkBases is this node's view of *other* peers).
func (v *Verifier) chooseSample(networkBases []string, sourceBase string) []string {
	others := make([]string, 0, len(networkBases))
	for _, b := range networkBases {
		if b != sourceBase {
			others = append(others, b)
		}
	}

	n := len(others) + 2 // +1 for self, +1 for the source
	switch {
	case n <= 2:
		return networkBases
	case n == 3:
		return others
	default:
		k := v.cfg.QuorumPeerSample
		if k <= 0 {
			k = 3
		}
		if k >= len(others) {
			return others
		}
		perm := rand.Perm(len(others))
		out := make([]string, 0, k)
		for _, idx := range perm[:k] {
			out = append(out, others[idx])
		}
		return out
	}
}

// agrees implements spec.md §4.G point 3: fetch P's tip, then the
// block-hash range overlapping [h0,h1], and check for any constant-time
// hash match against the local ledger within the window.
func (v *Verifier) agrees(ctx context.Context, base string, windowStart, tip uint64) (bool, error) {
	peerTip, err := peers.RemoteTipHeight(ctx, v.client, v.cfg.ProbeTimeout, base)
	if err != nil {
		return false, err
	}
	h1 := tip
	if peerTip < h1 {
		h1 = peerTip
	}
	h0 := uint64(0)
	if h1 > 0 {
		h0 = h1 - 1
	}
	if h0 < windowStart {
		h0 = windowStart
	}

	resp, err := v.client.Get(ctx, peerclient.BlockHashesRangeURL(base, h0, h1), v.cfg.FetchTimeout)
	if err != nil {
		return false, err
	}
	var result hashRangeResult
	if _, err := peerclient.DecodeEnvelope(resp.JSON, &result); err != nil {
		return false, err
	}

	for h := h0; h <= h1; h++ {
		remoteHex, ok := result.Hashes[heightKey(h)]
		if !ok {
			continue
		}
		localHash, err := v.store.BlockHashAt(ctx, h)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(localHash.Hex()), []byte(remoteHex)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func heightKey(h uint64) string {
	return strconv.FormatUint(h, 10)
}
