package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

const packageColumns = `id, name, category, credits, bonus_credits, price::text, currency, is_active`

type PgPackageRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgPackageRepository(db DB, logger *slog.Logger) *PgPackageRepository {
	return &PgPackageRepository{db: db, logger: logger.With("component", "package_repository_pg")}
}

func scanPackage(row pgx.Row) (*domain.PackageDefinition, error) {
	var p domain.PackageDefinition
	var category, price string
	if err := row.Scan(&p.ID, &p.Name, &category, &p.Credits, &p.BonusCredits, &price, &p.Currency, &p.IsActive); err != nil {
		return nil, err
	}
	p.Category = domain.CreditCategory(category)
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parsing package price %q: %w", price, err)
	}
	return &p, nil
}

func (r *PgPackageRepository) GetPackage(ctx context.Context, id string) (*domain.PackageDefinition, error) {
	p, err := scanPackage(r.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM credit_packages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPackageNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting package", "error", err, "package_id", id)
		return nil, fmt.Errorf("getting package: %w", err)
	}
	return p, nil
}

func (r *PgPackageRepository) ListActive(ctx context.Context, category domain.CreditCategory) ([]domain.PackageDefinition, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages
		WHERE is_active = TRUE AND ($1 = '' OR category = $1)
		ORDER BY category DESC, price, id`
	rows, err := r.db.Query(ctx, query, string(category))
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	defer rows.Close()

	pkgs := []domain.PackageDefinition{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pkgs, nil
}

// Upsert writes the given packages in one transaction. Packages missing from the
// input are left untouched; deactivate them by seeding with active: false.
func (r *PgPackageRepository) Upsert(ctx context.Context, pkgs []domain.PackageDefinition) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, p := range pkgs {
			_, err := tx.Exec(ctx, `
				INSERT INTO credit_packages (id, name, category, credits, bonus_credits, price, currency, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					category = EXCLUDED.category,
					credits = EXCLUDED.credits,
					bonus_credits = EXCLUDED.bonus_credits,
					price = EXCLUDED.price,
					currency = EXCLUDED.currency,
					is_active = EXCLUDED.is_active,
					updated_at = EXCLUDED.updated_at`,
				p.ID, p.Name, string(p.Category), p.Credits, p.BonusCredits, p.Price.String(), p.Currency, p.IsActive, now,
			)
			if err != nil {
				return fmt.Errorf("upserting package %s: %w", p.ID, err)
			}
		}
		r.logger.InfoContext(ctx, "Packages upserted", "count", len(pkgs))
		return nil
	})
}
