package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Outcome is a payment result as claimed by a redirect or reported by the gateway.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeDeclined  Outcome = "declined"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeExpired   Outcome = "expired"
	OutcomePending   Outcome = "pending"
)

// ParseOutcome maps return-path segments and API values to an Outcome.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "success", "succeeded", "authorised", "paid":
		return OutcomeSucceeded, true
	case "declined", "decline", "failed":
		return OutcomeDeclined, true
	case "cancelled", "canceled", "cancel":
		return OutcomeCancelled, true
	case "expired":
		return OutcomeExpired, true
	case "pending":
		return OutcomePending, true
	}
	return "", false
}

// Status returns the terminal session status for o. Pending has none.
func (o Outcome) Status() (SessionStatus, bool) {
	switch o {
	case OutcomeSucceeded:
		return SessionStatusSucceeded, true
	case OutcomeDeclined:
		return SessionStatusDeclined, true
	case OutcomeCancelled:
		return SessionStatusCancelled, true
	case OutcomeExpired:
		return SessionStatusExpired, true
	}
	return "", false
}

// Buyer holds the contact fields forwarded to the gateway.
type Buyer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// ReturnURLs are the three outcome-specific browser return targets.
type ReturnURLs struct {
	Success   string
	Declined  string
	Cancelled string
}

type OrderRequest struct {
	SessionID   string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Buyer       Buyer
	Returns     ReturnURLs
}

type OrderResponse struct {
	OrderRef    string
	RedirectURL string
}

// GatewayOutcome is the gateway's authoritative statement about a session.
type GatewayOutcome struct {
	Outcome        Outcome
	Reason         string
	Amount         decimal.Decimal
	Currency       string
	TransactionRef string
}

// CallbackEvent is a verified server-to-server notification.
type CallbackEvent struct {
	SessionID string
	Claimed   Outcome
	Message   string
}

// GatewayAdapter is the narrow interface to the hosted payment gateway.
type GatewayAdapter interface {
	Name() string
	// CreateOrder fails with ErrGatewayUnavailable (retryable) or ErrGatewayRejected.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	// ConfirmOutcome queries the gateway for the authoritative state of s.
	ConfirmOutcome(ctx context.Context, s *PaymentSession) (*GatewayOutcome, error)
	// ParseCallback verifies signature over raw and extracts the event.
	ParseCallback(ctx context.Context, raw []byte, signature string) (*CallbackEvent, error)
}
