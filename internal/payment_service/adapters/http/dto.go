package http

import (
	"time"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

type CreateCheckoutSessionRequest struct {
	PackageID string `json:"packageId" validate:"required,max=64"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	FirstName string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName  string `json:"lastName,omitempty" validate:"omitempty,max=100"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type CreateCheckoutSessionResponse struct {
	SessionID   string               `json:"sessionId"`
	RedirectURL string               `json:"redirectUrl"`
	Status      domain.SessionStatus `json:"status"`
}

type ReconcileRequest struct {
	SessionID      string `json:"sessionId" validate:"required,max=64"`
	ClaimedOutcome string `json:"claimedOutcome,omitempty" validate:"omitempty,oneof=success succeeded declined cancelled expired pending"`
}

// SessionResponse is the polling view of a session used by the native shell.
type SessionResponse struct {
	SessionID  string                `json:"sessionId"`
	PackageID  string                `json:"packageId"`
	Category   domain.CreditCategory `json:"category"`
	Credits    int                   `json:"credits"`
	Amount     string                `json:"amount"`
	Currency   string                `json:"currency"`
	Status     domain.SessionStatus  `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	CreatedAt  time.Time             `json:"createdAt"`
	ResolvedAt *time.Time            `json:"resolvedAt,omitempty"`
}

func toSessionResponse(s *domain.PaymentSession) SessionResponse {
	return SessionResponse{
		SessionID:  s.ID,
		PackageID:  s.PackageID,
		Category:   s.Category,
		Credits:    s.Credits,
		Amount:     s.Amount.StringFixed(2),
		Currency:   s.Currency,
		Status:     s.Status,
		Reason:     s.Reason(),
		CreatedAt:  s.CreatedAt,
		ResolvedAt: s.ResolvedAt,
	}
}

type PackageResponse struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Category     domain.CreditCategory `json:"category"`
	Credits      int                   `json:"credits"`
	BonusCredits int                   `json:"bonusCredits"`
	TotalCredits int                   `json:"totalCredits"`
	Price        string                `json:"price"`
	Currency     string                `json:"currency"`
}

type ListPackagesResponse struct {
	Packages []PackageResponse `json:"packages"`
}

type BalanceResponse struct {
	SparePartsCredits int `json:"sparePartsCredits"`
	AutomotiveCredits int `json:"automotiveCredits"`
}

type LedgerEntryResponse struct {
	ID             string                `json:"id"`
	SessionID      string                `json:"sessionId"`
	Category       domain.CreditCategory `json:"category"`
	CreditsGranted int                   `json:"creditsGranted"`
	AmountPaid     string                `json:"amountPaid"`
	Currency       string                `json:"currency"`
	CreatedAt      time.Time             `json:"createdAt"`
}

type LedgerResponse struct {
	Entries []LedgerEntryResponse `json:"entries"`
}
