// Package scheduler runs the periodic grant sweep: automatic expiry of
// lapsed grants and execution of scheduled revocations.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veropath/grantflow/internal/grant"
	"github.com/veropath/grantflow/model"
)

// ScheduledRevocationReason is stamped on grants revoked by the sweep.
const ScheduledRevocationReason = "scheduled"

// SweepReport lists the grants a single sweep transitioned.
type SweepReport struct {
	Expired []string  `json:"expired"`
	Revoked []string  `json:"revoked"`
	SweptAt time.Time `json:"swept_at"`
}

// Sweeper periodically finds grants due for expiry or scheduled revocation
// and applies the transition through the grant manager. Sweeps are safe to
// overlap with each other and with manual revocations: every candidate is
// transitioned under its own optimistic lock, and a grant another writer
// already terminated is skipped rather than failed.
type Sweeper struct {
	store    grant.GrantStore
	manager  *grant.Manager
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. A non-positive interval falls back to five
// minutes.
func NewSweeper(store grant.GrantStore, manager *grant.Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, manager: manager, interval: interval, logger: logger}
}

// Run sweeps on a fixed interval until the context is cancelled. The first
// sweep fires after one interval, not immediately.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("grant sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("grant sweeper stopped")
			return
		case now := <-ticker.C:
			report, err := s.Sweep(ctx, now.UTC())
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if len(report.Expired) > 0 || len(report.Revoked) > 0 {
				s.logger.Info("sweep completed",
					zap.Int("expired", len(report.Expired)),
					zap.Int("revoked", len(report.Revoked)),
				)
			}
		}
	}
}

// Sweep runs one pass at the given instant. Returns the IDs of grants it
// actually transitioned; candidates already terminated by a concurrent
// writer are omitted without error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	report := SweepReport{
		Expired: []string{},
		Revoked: []string{},
		SweptAt: now,
	}

	expiring, err := s.store.FindExpiring(ctx, now)
	if err != nil {
		return report, err
	}
	for _, g := range expiring {
		if _, err := s.manager.Expire(ctx, g.ID, now); err != nil {
			if sweepSkippable(err) {
				continue
			}
			return report, err
		}
		report.Expired = append(report.Expired, g.ID)
	}

	scheduled, err := s.store.FindScheduledForRevocation(ctx, now)
	if err != nil {
		return report, err
	}
	for _, g := range scheduled {
		if _, err := s.manager.Revoke(ctx, model.SystemActor.ID, g.ID, ScheduledRevocationReason); err != nil {
			if sweepSkippable(err) {
				continue
			}
			return report, err
		}
		report.Revoked = append(report.Revoked, g.ID)
	}

	return report, nil
}

// sweepSkippable reports whether a per-grant failure means another writer
// got there first. Those grants are simply no longer candidates.
func sweepSkippable(err error) bool {
	switch model.ErrorCode(err) {
	case model.ErrAlreadyRevoked, model.ErrAlreadyExpired, model.ErrConflict, model.ErrNotFound:
		return true
	}
	return false
}
