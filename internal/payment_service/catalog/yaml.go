package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

const defaultCurrency = "AED"

type packageFile struct {
	Packages []packageRecord `yaml:"packages"`
}

type packageRecord struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Category     string `yaml:"category"`
	Credits      int    `yaml:"credits"`
	BonusCredits int    `yaml:"bonus_credits"`
	Price        string `yaml:"price"`
	Currency     string `yaml:"currency"`
	Active       *bool  `yaml:"active"`
}

// LoadFile reads package definitions from a YAML file.
func LoadFile(path string) ([]domain.PackageDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and validates a YAML package list.
func Decode(r io.Reader) ([]domain.PackageDefinition, error) {
	var file packageFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding catalog yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Packages))
	out := make([]domain.PackageDefinition, 0, len(file.Packages))
	for i, rec := range file.Packages {
		if rec.ID == "" {
			return nil, fmt.Errorf("package #%d: missing id", i)
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("package %s: duplicate id", rec.ID)
		}
		seen[rec.ID] = struct{}{}

		category, err := domain.ParseCreditCategory(rec.Category)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", rec.ID, err)
		}
		if rec.Credits <= 0 || rec.BonusCredits < 0 {
			return nil, fmt.Errorf("package %s: credits must be positive", rec.ID)
		}
		price, err := decimal.NewFromString(rec.Price)
		if err != nil {
			return nil, fmt.Errorf("package %s: invalid price %q: %w", rec.ID, rec.Price, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("package %s: price must be positive", rec.ID)
		}
		currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
		if currency == "" {
			currency = defaultCurrency
		}
		active := true
		if rec.Active != nil {
			active = *rec.Active
		}

		out = append(out, domain.PackageDefinition{
			ID:           rec.ID,
			Name:         rec.Name,
			Category:     category,
			Credits:      rec.Credits,
			BonusCredits: rec.BonusCredits,
			Price:        price,
			Currency:     currency,
			IsActive:     active,
		})
	}
	return out, nil
}
