package domain

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreditCategory is the listing category a credit can be spent on.
type CreditCategory string

const (
	CategorySpareParts CreditCategory = "spare_parts"
	CategoryAutomotive CreditCategory = "automotive"
)

// ParseCreditCategory accepts the canonical names plus the camelCase form used by mobile clients.
func ParseCreditCategory(s string) (CreditCategory, error) {
	switch s {
	case "spare_parts", "spareParts":
		return CategorySpareParts, nil
	case "automotive":
		return CategoryAutomotive, nil
	default:
		return "", fmt.Errorf("unknown credit category %q", s)
	}
}

func (c CreditCategory) Valid() bool {
	return c == CategorySpareParts || c == CategoryAutomotive
}

// PackageDefinition is a purchasable credit bundle. Read-only for this service.
type PackageDefinition struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     CreditCategory  `json:"category"`
	Credits      int             `json:"credits"`
	BonusCredits int             `json:"bonusCredits"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	IsActive     bool            `json:"isActive"`
}

// TotalCredits is what a successful purchase grants.
func (p PackageDefinition) TotalCredits() int {
	return p.Credits + p.BonusCredits
}

// PackageCatalog is the read side of the package catalog.
type PackageCatalog interface {
	// GetPackage returns ErrPackageNotFound for unknown ids. Inactive packages are returned as-is.
	GetPackage(ctx context.Context, id string) (*PackageDefinition, error)
	// ListActive lists active packages, optionally filtered by category (empty = all).
	ListActive(ctx context.Context, category CreditCategory) ([]PackageDefinition, error)
}
