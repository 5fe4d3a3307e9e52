package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

const ledgerColumns = `id, user_id, session_id, category, credits_granted, amount_paid::text, currency,
	spare_parts_balance_after, automotive_balance_after, created_at`

type PgLedgerRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgLedgerRepository(db DB, logger *slog.Logger) *PgLedgerRepository {
	return &PgLedgerRepository{db: db, logger: logger.With("component", "ledger_repository_pg")}
}

func scanLedgerEntry(row pgx.Row) (*domain.CreditLedgerEntry, error) {
	var e domain.CreditLedgerEntry
	var category, amount string
	err := row.Scan(
		&e.ID, &e.UserID, &e.SessionID, &category, &e.CreditsGranted, &amount, &e.Currency,
		&e.SparePartsBalanceAfter, &e.AutomotiveBalanceAfter, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Category = domain.CreditCategory(category)
	if e.AmountPaid, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parsing ledger amount %q: %w", amount, err)
	}
	return &e, nil
}

// Grant runs the ledger insert and balance increment in their own transaction.
func (r *PgLedgerRepository) Grant(ctx context.Context, g domain.CreditGrant) (*domain.CreditLedgerEntry, bool, error) {
	var entry *domain.CreditLedgerEntry
	var inserted bool
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		entry, inserted, err = r.grant(ctx, tx, g)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entry, inserted, nil
}

// grant must run inside a transaction. The unique session_id constraint makes a
// second grant for the same session a no-op that returns the existing entry.
func (r *PgLedgerRepository) grant(ctx context.Context, q Querier, g domain.CreditGrant) (*domain.CreditLedgerEntry, bool, error) {
	if g.Credits <= 0 || !g.Category.Valid() {
		return nil, false, fmt.Errorf("invalid credit grant for session %s", g.SessionID)
	}

	entry := &domain.CreditLedgerEntry{
		ID:             uuid.NewString(),
		UserID:         g.UserID,
		SessionID:      g.SessionID,
		Category:       g.Category,
		CreditsGranted: g.Credits,
		AmountPaid:     g.AmountPaid,
		Currency:       g.Currency,
		CreatedAt:      time.Now().UTC(),
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, session_id, category, credits_granted, amount_paid, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING`,
		entry.ID, entry.UserID, entry.SessionID, string(entry.Category), entry.CreditsGranted,
		entry.AmountPaid.String(), entry.Currency, entry.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Ledger entry already exists; skipping grant", "session_id", g.SessionID)
		existing, err := r.entryForSession(ctx, q, g.SessionID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	spareDelta, autoDelta := 0, 0
	if g.Category == domain.CategorySpareParts {
		spareDelta = g.Credits
	} else {
		autoDelta = g.Credits
	}

	err = q.QueryRow(ctx, `
		INSERT INTO user_credit_balances (user_id, spare_parts_credits, automotive_credits, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			spare_parts_credits = user_credit_balances.spare_parts_credits + EXCLUDED.spare_parts_credits,
			automotive_credits = user_credit_balances.automotive_credits + EXCLUDED.automotive_credits,
			updated_at = EXCLUDED.updated_at
		RETURNING spare_parts_credits, automotive_credits`,
		g.UserID, spareDelta, autoDelta, entry.CreatedAt,
	).Scan(&entry.SparePartsBalanceAfter, &entry.AutomotiveBalanceAfter)
	if err != nil {
		return nil, false, fmt.Errorf("incrementing credit balance: %w", err)
	}

	if _, err := q.Exec(ctx,
		`UPDATE credit_ledger SET spare_parts_balance_after = $2, automotive_balance_after = $3 WHERE id = $1`,
		entry.ID, entry.SparePartsBalanceAfter, entry.AutomotiveBalanceAfter,
	); err != nil {
		return nil, false, fmt.Errorf("recording balance snapshot: %w", err)
	}

	r.logger.InfoContext(ctx, "Credits granted",
		"session_id", g.SessionID, "user_id", g.UserID, "category", g.Category, "credits", g.Credits)
	return entry, true, nil
}

func (r *PgLedgerRepository) EntryForSession(ctx context.Context, sessionID string) (*domain.CreditLedgerEntry, error) {
	return r.entryForSession(ctx, r.db, sessionID)
}

func (r *PgLedgerRepository) entryForSession(ctx context.Context, q Querier, sessionID string) (*domain.CreditLedgerEntry, error) {
	e, err := scanLedgerEntry(q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM credit_ledger WHERE session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLedgerEntryNotFound
		}
		return nil, fmt.Errorf("getting ledger entry: %w", err)
	}
	return e, nil
}

func (r *PgLedgerRepository) Balance(ctx context.Context, userID string) (*domain.UserCreditBalance, error) {
	b := domain.UserCreditBalance{UserID: userID}
	err := r.db.QueryRow(ctx,
		`SELECT spare_parts_credits, automotive_credits, updated_at FROM user_credit_balances WHERE user_id = $1`,
		userID,
	).Scan(&b.SparePartsCredits, &b.AutomotiveCredits, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &b, nil
		}
		return nil, fmt.Errorf("getting credit balance: %w", err)
	}
	return &b, nil
}

func (r *PgLedgerRepository) ListEntries(ctx context.Context, userID string, limit, offset int) ([]domain.CreditLedgerEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ledgerColumns+`
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.CreditLedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
