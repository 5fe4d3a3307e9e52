package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// PgFulfillmentStore commits the succeeded transition and the credit grant together.
// Either both are visible or neither is; a failed grant leaves the session pending.
type PgFulfillmentStore struct {
	db       DB
	sessions *PgSessionRepository
	ledger   *PgLedgerRepository
	logger   *slog.Logger
}

func NewPgFulfillmentStore(db DB, sessions *PgSessionRepository, ledger *PgLedgerRepository, logger *slog.Logger) *PgFulfillmentStore {
	return &PgFulfillmentStore{
		db:       db,
		sessions: sessions,
		ledger:   ledger,
		logger:   logger.With("component", "fulfillment_store_pg"),
	}
}

func (f *PgFulfillmentStore) CompleteSuccess(ctx context.Context, sessionID string, grant domain.CreditGrant) (*domain.PaymentSession, *domain.CreditLedgerEntry, bool, error) {
	var (
		session *domain.PaymentSession
		entry   *domain.CreditLedgerEntry
		won     bool
	)
	err := pgx.BeginFunc(ctx, f.db, func(tx pgx.Tx) error {
		var err error
		session, won, err = f.sessions.transitionTerminal(ctx, tx, sessionID, domain.SessionStatusSucceeded, "")
		if err != nil || !won {
			return err
		}
		entry, _, err = f.ledger.grant(ctx, tx, grant)
		return err
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "Fulfillment transaction rolled back", "session_id", sessionID, "error", err)
		return nil, nil, false, fmt.Errorf("completing payment session: %w", err)
	}
	return session, entry, won, nil
}
