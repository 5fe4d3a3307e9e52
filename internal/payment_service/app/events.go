package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
	"github.com/partsmarket/golang_services/internal/platform/messagebroker"
)

const sessionEventSubjectPrefix = "payments.session."

// SessionResolvedEvent is published once per session, by whoever moved it out of pending.
type SessionResolvedEvent struct {
	SessionID      string                `json:"sessionId"`
	UserID         string                `json:"userId"`
	PackageID      string                `json:"packageId"`
	Status         domain.SessionStatus  `json:"status"`
	Category       domain.CreditCategory `json:"category"`
	CreditsGranted int                   `json:"creditsGranted"`
	Amount         string                `json:"amount"`
	Currency       string                `json:"currency"`
	Reason         string                `json:"reason,omitempty"`
	ResolvedAt     time.Time             `json:"resolvedAt"`
}

// SessionEventSubject returns the NATS subject for a resolution to status.
func SessionEventSubject(status domain.SessionStatus) string {
	return sessionEventSubjectPrefix + string(status)
}

type eventPublisher struct {
	pub    messagebroker.Publisher
	logger *slog.Logger
}

// sessionResolved is best-effort: a failed publish is logged and never fails the caller.
func (e eventPublisher) sessionResolved(ctx context.Context, s *domain.PaymentSession, creditsGranted int) {
	if e.pub == nil {
		return
	}
	ev := SessionResolvedEvent{
		SessionID:      s.ID,
		UserID:         s.UserID,
		PackageID:      s.PackageID,
		Status:         s.Status,
		Category:       s.Category,
		CreditsGranted: creditsGranted,
		Amount:         s.Amount.String(),
		Currency:       s.Currency,
		Reason:         s.Reason(),
		ResolvedAt:     s.UpdatedAt,
	}
	if s.ResolvedAt != nil {
		ev.ResolvedAt = *s.ResolvedAt
	}
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to marshal session resolved event", "session_id", s.ID, "error", err)
		return
	}
	subject := SessionEventSubject(s.Status)
	if err := e.pub.Publish(ctx, subject, data); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish session resolved event", "subject", subject, "session_id", s.ID, "error", err)
	}
}
