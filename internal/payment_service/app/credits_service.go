package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

const (
	defaultLedgerPageSize = 20
	maxLedgerPageSize     = 100
)

// CreditsService is the read side of the credit ledger.
type CreditsService struct {
	ledger domain.CreditLedger
	logger *slog.Logger
}

func NewCreditsService(ledger domain.CreditLedger, logger *slog.Logger) *CreditsService {
	return &CreditsService{ledger: ledger, logger: logger.With("component", "credits")}
}

func (c *CreditsService) Balance(ctx context.Context, userID string) (*domain.UserCreditBalance, error) {
	b, err := c.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading credit balance: %w", err)
	}
	return b, nil
}

// Entries pages through a user's ledger, newest first. limit is clamped to [1, 100].
func (c *CreditsService) Entries(ctx context.Context, userID string, limit, offset int) ([]domain.CreditLedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := c.ledger.ListEntries(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	return entries, nil
}
