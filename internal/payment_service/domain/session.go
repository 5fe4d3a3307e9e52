package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a payment session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusSucceeded SessionStatus = "succeeded"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusDeclined  SessionStatus = "declined"
	SessionStatusExpired   SessionStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusSucceeded, SessionStatusCancelled, SessionStatusDeclined, SessionStatusExpired:
		return true
	}
	return false
}

func (s SessionStatus) Valid() bool {
	return s == SessionStatusPending || s.IsTerminal()
}

// PaymentSession correlates one checkout attempt across the gateway redirect round-trip.
// Category, Credits, Amount and Currency are snapshots of the package at creation time.
type PaymentSession struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	PackageID       string          `json:"packageId"`
	Category        CreditCategory  `json:"category"`
	Credits         int             `json:"credits"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          SessionStatus   `json:"status"`
	GatewayProvider string          `json:"gatewayProvider"`
	GatewayOrderRef *string         `json:"gatewayOrderRef,omitempty"`
	DeclineReason   *string         `json:"declineReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
}

// Reason returns the decline reason or "".
func (s *PaymentSession) Reason() string {
	if s.DeclineReason == nil {
		return ""
	}
	return *s.DeclineReason
}

// SessionRepository persists payment sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *PaymentSession) error
	GetByID(ctx context.Context, id string) (*PaymentSession, error)
	// AttachGatewayOrder records the gateway's order reference while the session is pending.
	AttachGatewayOrder(ctx context.Context, id, orderRef string) error
	// TransitionTerminal moves a pending session to a terminal status with a single conditional
	// write. The bool is true only for the caller that performed the move; an already-terminal
	// session is returned unchanged with false.
	TransitionTerminal(ctx context.Context, id string, to SessionStatus, reason string) (*PaymentSession, bool, error)
	// ListPendingBefore returns pending sessions created before cutoff, least recently
	// touched first.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentSession, error)
	// TouchPending bumps updated_at on a pending session the sweep could not resolve,
	// moving it behind the other stale sessions.
	TouchPending(ctx context.Context, id string) error
	// ListUncredited returns succeeded sessions that have no ledger entry.
	ListUncredited(ctx context.Context, limit int) ([]*PaymentSession, error)
	// PurgeResolvedBefore deletes non-succeeded terminal sessions resolved before cutoff.
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
