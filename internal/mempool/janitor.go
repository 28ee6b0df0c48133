// Package mempool implements the spec.md §4.H Mempool Janitor: a single
// transactional sweep that expires stale entries, removes confirmed
// duplicates, collapses duplicate nonces, and recovers stuck transactions.
package mempool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"chainsyncd/internal/config"
	"chainsyncd/internal/store"
)

type Janitor struct {
	store  *store.Store
	cfg    *config.Config
	logger *logrus.Logger
}

func New(st *store.Store, cfg *config.Config, logger *logrus.Logger) *Janitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Janitor{store: st, cfg: cfg, logger: logger}
}

// Sweep runs the five-step maintenance pass of spec.md §4.H and logs a
// one-line summary of what was cleaned up.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) (store.JanitorResult, error) {
	res, err := j.store.JanitorSweep(ctx, now, j.cfg.MempoolTTL, j.cfg.MempoolProcessingStall, j.cfg.MempoolFailedRetention)
	if err != nil {
		return res, err
	}
	j.logger.WithFields(logrus.Fields{
		"expired":     res.ExpiredDeleted,
		"confirmed":   res.ConfirmedDeleted,
		"duplicates":  res.DuplicatesDeleted,
		"stalled":     res.StaleMarkedFailed,
		"old_failed":  res.OldFailedDeleted,
	}).Info("mempool janitor sweep complete")
	return res, nil
}
