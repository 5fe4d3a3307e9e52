package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CreditLedgerEntry is an immutable record of credits granted for one session.
// The balance-after fields snapshot the user's balance right after the grant.
type CreditLedgerEntry struct {
	ID                     string          `json:"id"`
	UserID                 string          `json:"userId"`
	SessionID              string          `json:"sessionId"`
	Category               CreditCategory  `json:"category"`
	CreditsGranted         int             `json:"creditsGranted"`
	AmountPaid             decimal.Decimal `json:"amountPaid"`
	Currency               string          `json:"currency"`
	SparePartsBalanceAfter int             `json:"sparePartsBalanceAfter"`
	AutomotiveBalanceAfter int             `json:"automotiveBalanceAfter"`
	CreatedAt              time.Time       `json:"createdAt"`
}

// UserCreditBalance is derived additively from ledger entries.
type UserCreditBalance struct {
	UserID            string    `json:"userId"`
	SparePartsCredits int       `json:"sparePartsCredits"`
	AutomotiveCredits int       `json:"automotiveCredits"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// CreditGrant is the input to a ledger write.
type CreditGrant struct {
	SessionID  string
	UserID     string
	Category   CreditCategory
	Credits    int
	AmountPaid decimal.Decimal
	Currency   string
}

// GrantFromSession builds the grant a succeeded session is owed.
func GrantFromSession(s *PaymentSession) CreditGrant {
	return CreditGrant{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Category:   s.Category,
		Credits:    s.Credits,
		AmountPaid: s.Amount,
		Currency:   s.Currency,
	}
}

// CreditLedger is the append-only ledger plus per-user balance.
type CreditLedger interface {
	// Grant inserts the entry for grant.SessionID and increments the balance atomically.
	// If an entry already exists it is returned with false and the balance is untouched.
	Grant(ctx context.Context, grant CreditGrant) (*CreditLedgerEntry, bool, error)
	EntryForSession(ctx context.Context, sessionID string) (*CreditLedgerEntry, error)
	// Balance returns a zero balance for users without entries.
	Balance(ctx context.Context, userID string) (*UserCreditBalance, error)
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]CreditLedgerEntry, error)
}

// FulfillmentStore couples the session transition and the ledger write in one atomic unit.
type FulfillmentStore interface {
	// CompleteSuccess transitions the session to succeeded and grants its credits. When the
	// session was already terminal nothing is written and won is false.
	CompleteSuccess(ctx context.Context, sessionID string, grant CreditGrant) (s *PaymentSession, entry *CreditLedgerEntry, won bool, err error)
}
