package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// HousekeeperConfig holds the sweep settings.
type HousekeeperConfig struct {
	PendingTTL time.Duration `mapstructure:"SESSION_PENDING_TTL"`
	Retention  time.Duration `mapstructure:"SESSION_RETENTION"`
	Interval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	BatchSize  int           `mapstructure:"SWEEP_BATCH_SIZE"`
}

// SweepReport summarises one expiry sweep.
type SweepReport struct {
	Examined int
	Expired  int
	Resolved int // the gateway had a definitive answer other than "still pending"
	Skipped  int // gateway unreachable or amount mismatch; left pending
}

// Housekeeper expires abandoned sessions, repairs missing grants and purges old
// unsuccessful sessions.
type Housekeeper struct {
	sessions   domain.SessionRepository
	ledger     domain.CreditLedger
	reconciler *Reconciler
	cfg        HousekeeperConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewHousekeeper(sessions domain.SessionRepository, ledger domain.CreditLedger, reconciler *Reconciler, cfg HousekeeperConfig, logger *slog.Logger) *Housekeeper {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Housekeeper{
		sessions:   sessions,
		ledger:     ledger,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger.With("component", "housekeeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SweepExpired looks at sessions pending for longer than PendingTTL. The gateway is asked
// first so that a late payment is credited rather than expired; only sessions the gateway
// still reports as pending are marked expired.
func (h *Housekeeper) SweepExpired(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	cutoff := h.now().Add(-h.cfg.PendingTTL)
	stale, err := h.sessions.ListPendingBefore(ctx, cutoff, h.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("listing stale sessions: %w", err)
	}

	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++

		out, err := h.reconciler.confirmOutcome(ctx, s)
		if err != nil {
			h.logger.WarnContext(ctx, "Could not confirm stale session with gateway, leaving pending", "session_id", s.ID, "error", err)
			h.skip(ctx, s, &report)
			continue
		}

		expiring := out.Outcome == domain.OutcomePending
		if expiring {
			out = &domain.GatewayOutcome{Outcome: domain.OutcomeExpired}
		}
		res, err := h.reconciler.resolve(ctx, s, out)
		if err != nil {
			h.logger.WarnContext(ctx, "Failed to resolve stale session", "session_id", s.ID, "error", err)
			h.skip(ctx, s, &report)
			continue
		}
		if expiring && res.Status == domain.SessionStatusExpired {
			housekeepingCounter.WithLabelValues("expired").Inc()
			report.Expired++
		} else {
			housekeepingCounter.WithLabelValues("resolved").Inc()
			report.Resolved++
		}
	}

	if report.Examined > 0 {
		h.logger.InfoContext(ctx, "Expiry sweep finished", "examined", report.Examined, "expired", report.Expired,
			"resolved", report.Resolved, "skipped", report.Skipped)
	}
	return report, nil
}

// skip leaves s pending and rotates it behind the rest of the backlog so that
// sessions which keep failing cannot fill every batch.
func (h *Housekeeper) skip(ctx context.Context, s *domain.PaymentSession, report *SweepReport) {
	housekeepingCounter.WithLabelValues("skipped").Inc()
	report.Skipped++
	if err := h.sessions.TouchPending(ctx, s.ID); err != nil {
		h.logger.ErrorContext(ctx, "Failed to rotate skipped session", "session_id", s.ID, "error", err)
	}
}

// RepairUncredited grants credits to succeeded sessions that have no ledger entry.
func (h *Housekeeper) RepairUncredited(ctx context.Context) (int, error) {
	sessions, err := h.sessions.ListUncredited(ctx, h.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing uncredited sessions: %w", err)
	}
	repaired := 0
	for _, s := range sessions {
		entry, granted, err := h.ledger.Grant(ctx, domain.GrantFromSession(s))
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to repair missing credit grant", "session_id", s.ID, "error", err)
			continue
		}
		if granted {
			repaired++
			housekeepingCounter.WithLabelValues("repaired").Inc()
			creditsGrantedCounter.WithLabelValues(string(entry.Category)).Add(float64(entry.CreditsGranted))
			h.logger.WarnContext(ctx, "Granted missing credits for succeeded session", "session_id", s.ID, "user_id", s.UserID, "credits", entry.CreditsGranted)
		}
	}
	return repaired, nil
}

// PurgeResolved deletes unsuccessful sessions resolved longer ago than the retention window.
func (h *Housekeeper) PurgeResolved(ctx context.Context) (int64, error) {
	if h.cfg.Retention <= 0 {
		return 0, errors.New("session retention is not configured")
	}
	n, err := h.sessions.PurgeResolvedBefore(ctx, h.now().Add(-h.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("purging resolved sessions: %w", err)
	}
	housekeepingCounter.WithLabelValues("purged").Add(float64(n))
	h.logger.InfoContext(ctx, "Purged resolved sessions", "count", n, "retention", h.cfg.Retention)
	return n, nil
}

// Run sweeps and repairs every Interval until ctx is cancelled.
func (h *Housekeeper) Run(ctx context.Context) error {
	h.logger.InfoContext(ctx, "Starting housekeeping loop", "interval", h.cfg.Interval, "pending_ttl", h.cfg.PendingTTL)
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := h.SweepExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.ErrorContext(ctx, "Expiry sweep failed", "error", err)
			}
			if _, err := h.RepairUncredited(ctx); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.ErrorContext(ctx, "Credit repair failed", "error", err)
			}
		case <-ctx.Done():
			h.logger.InfoContext(ctx, "Housekeeping loop stopped")
			return nil
		}
	}
}
