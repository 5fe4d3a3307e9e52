package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// StaticCatalog serves packages from memory. It backs local development and the
// CATALOG_FILE deployment mode.
type StaticCatalog struct {
	mu       sync.RWMutex
	packages map[string]domain.PackageDefinition
}

func NewStaticCatalog(pkgs []domain.PackageDefinition) *StaticCatalog {
	c := &StaticCatalog{packages: make(map[string]domain.PackageDefinition, len(pkgs))}
	for _, p := range pkgs {
		c.packages[p.ID] = p
	}
	return c
}

func (c *StaticCatalog) GetPackage(_ context.Context, id string) (*domain.PackageDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.packages[id]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return &p, nil
}

func (c *StaticCatalog) ListActive(_ context.Context, category domain.CreditCategory) ([]domain.PackageDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.PackageDefinition, 0, len(c.packages))
	for _, p := range c.packages {
		if !p.IsActive {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	sortPackages(out)
	return out, nil
}

// sortPackages orders by category, then price, then id.
func sortPackages(pkgs []domain.PackageDefinition) {
	sort.Slice(pkgs, func(i, j int) bool {
		if pkgs[i].Category != pkgs[j].Category {
			return pkgs[i].Category > pkgs[j].Category
		}
		if !pkgs[i].Price.Equal(pkgs[j].Price) {
			return pkgs[i].Price.LessThan(pkgs[j].Price)
		}
		return pkgs[i].ID < pkgs[j].ID
	})
}
