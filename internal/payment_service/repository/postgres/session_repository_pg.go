package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

const sessionColumns = `id, user_id, package_id, category, credits, amount::text, currency, status,
	gateway_provider, gateway_order_ref, decline_reason, created_at, updated_at, resolved_at`

type PgSessionRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgSessionRepository(db DB, logger *slog.Logger) *PgSessionRepository {
	return &PgSessionRepository{db: db, logger: logger.With("component", "session_repository_pg")}
}

func scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	var category, amount, status string
	var orderRef, reason sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.UserID, &s.PackageID, &category, &s.Credits, &amount, &s.Currency, &status,
		&s.GatewayProvider, &orderRef, &reason, &s.CreatedAt, &s.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err // pgx.ErrNoRows is handled by callers
	}

	s.Category = domain.CreditCategory(category)
	s.Status = domain.SessionStatus(status)
	if s.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parsing session amount %q: %w", amount, err)
	}
	if orderRef.Valid {
		s.GatewayOrderRef = &orderRef.String
	}
	if reason.Valid {
		s.DeclineReason = &reason.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		s.ResolvedAt = &t
	}
	return &s, nil
}

func (r *PgSessionRepository) Create(ctx context.Context, s *domain.PaymentSession) error {
	query := `
		INSERT INTO payment_sessions (
			id, user_id, package_id, category, credits, amount, currency, status,
			gateway_provider, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		s.ID, s.UserID, s.PackageID, string(s.Category), s.Credits, s.Amount.String(), s.Currency,
		string(s.Status), s.GatewayProvider, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateSession
		}
		r.logger.ErrorContext(ctx, "Error creating payment session", "error", err, "session_id", s.ID)
		return fmt.Errorf("creating payment session: %w", err)
	}
	return nil
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentSession, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *PgSessionRepository) getByID(ctx context.Context, q Querier, id string) (*domain.PaymentSession, error) {
	s, err := scanSession(q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting payment session", "error", err, "session_id", id)
		return nil, fmt.Errorf("getting payment session: %w", err)
	}
	return s, nil
}

func (r *PgSessionRepository) AttachGatewayOrder(ctx context.Context, id, orderRef string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_sessions SET gateway_order_ref = $2, updated_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, orderRef, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("attaching gateway order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.getByID(ctx, r.db, id); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *PgSessionRepository) TransitionTerminal(ctx context.Context, id string, to domain.SessionStatus, reason string) (*domain.PaymentSession, bool, error) {
	return r.transitionTerminal(ctx, r.db, id, to, reason)
}

// transitionTerminal is the only place a session leaves pending. The WHERE clause
// makes concurrent callers race on the row lock; losers match zero rows.
func (r *PgSessionRepository) transitionTerminal(ctx context.Context, q Querier, id string, to domain.SessionStatus, reason string) (*domain.PaymentSession, bool, error) {
	if !to.IsTerminal() {
		return nil, false, domain.ErrInvalidTransition
	}
	now := time.Now().UTC()
	query := `
		UPDATE payment_sessions
		SET status = $2, decline_reason = NULLIF($3, ''), resolved_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + sessionColumns

	s, err := scanSession(q.QueryRow(ctx, query, id, string(to), reason, now))
	if err == nil {
		r.logger.InfoContext(ctx, "Payment session resolved", "session_id", id, "status", to)
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error transitioning payment session", "error", err, "session_id", id)
		return nil, false, fmt.Errorf("transitioning payment session: %w", err)
	}

	existing, err := r.getByID(ctx, q, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PgSessionRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY updated_at, created_at
		LIMIT $2`
	return r.list(ctx, query, cutoff, limit)
}

func (r *PgSessionRepository) TouchPending(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_sessions SET updated_at = $2 WHERE id = $1 AND status = 'pending'`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("touching payment session: %w", err)
	}
	return nil
}

func (r *PgSessionRepository) ListUncredited(ctx context.Context, limit int) ([]*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE status = 'succeeded'
		  AND NOT EXISTS (SELECT 1 FROM credit_ledger l WHERE l.session_id = payment_sessions.id)
		ORDER BY resolved_at
		LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *PgSessionRepository) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM payment_sessions
		WHERE status IN ('cancelled', 'declined', 'expired')
		  AND resolved_at < $1
		  AND NOT EXISTS (SELECT 1 FROM credit_ledger l WHERE l.session_id = payment_sessions.id)`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging payment sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgSessionRepository) list(ctx context.Context, query string, args ...any) ([]*domain.PaymentSession, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing payment sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning payment session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
