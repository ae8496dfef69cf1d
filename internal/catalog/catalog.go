package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed packages.yaml
var defaultPackages []byte

type Catalog struct {
	byID    map[string]models.Package
	ordered []models.Package
}

type packageEntry struct {
	models.Package `yaml:",inline"`
	PriceUSD       string `yaml:"price_usd"`
}

type catalogFile struct {
	Packages []packageEntry `yaml:"packages"`
}

// Load parses the embedded package table.
func Load() (*Catalog, error) {
	return Parse(defaultPackages)
}

// Parse builds a catalog from YAML and checks every entry's totals.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse package catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]models.Package, len(file.Packages))}
	for _, entry := range file.Packages {
		p := entry.Package
		price, err := decimal.NewFromString(entry.PriceUSD)
		if err != nil {
			return nil, fmt.Errorf("package %s: invalid price %q: %w", p.ID, entry.PriceUSD, err)
		}
		p.PriceUSD = price

		if p.ID == "" {
			return nil, fmt.Errorf("package without id")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate package id %s", p.ID)
		}
		if p.Amount <= 0 || p.Bonus < 0 {
			return nil, fmt.Errorf("package %s: amount must be positive and bonus non-negative", p.ID)
		}
		if p.Solcitos != p.Amount+p.Bonus {
			return nil, fmt.Errorf("package %s: solcitos %d != amount %d + bonus %d", p.ID, p.Solcitos, p.Amount, p.Bonus)
		}
		if !p.PriceUSD.IsPositive() {
			return nil, fmt.Errorf("package %s: price must be positive", p.ID)
		}

		c.byID[p.ID] = p
		if p.Active {
			c.ordered = append(c.ordered, p)
		}
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].DisplayOrder < c.ordered[j].DisplayOrder
	})
	return c, nil
}

// Get returns an active package. Unknown and inactive ids are both ErrPackageNotFound.
func (c *Catalog) Get(id string) (models.Package, error) {
	p, ok := c.byID[id]
	if !ok || !p.Active {
		return models.Package{}, fmt.Errorf("%w: %s", pkgerrors.ErrPackageNotFound, id)
	}
	return p, nil
}

func (c *Catalog) List() []models.Package {
	out := make([]models.Package, len(c.ordered))
	copy(out, c.ordered)
	return out
}
