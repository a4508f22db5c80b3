package tiers

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

type catalogFile struct {
	TaxRate decimal.Decimal `yaml:"tax_rate"`
	Overage OveragePricing  `yaml:"overage"`
	Tiers   []Definition    `yaml:"tiers"`
}

// Catalog is the immutable registry of tiers and overage prices.
type Catalog struct {
	tiers   map[ID]Definition
	ordered []ID
	overage OveragePricing
	taxRate decimal.Decimal
}

var defaultCatalog = mustParse(embeddedCatalog)

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	return defaultCatalog
}

// Load parses a catalog from YAML.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return parse(data)
}

// LoadFile parses a catalog from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func mustParse(data []byte) *Catalog {
	c, err := parse(data)
	if err != nil {
		panic(err)
	}
	return c
}

func parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Tiers) == 0 {
		return nil, fmt.Errorf("catalog defines no tiers")
	}
	if file.TaxRate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative")
	}

	c := &Catalog{
		tiers:   make(map[ID]Definition, len(file.Tiers)),
		overage: file.Overage,
		taxRate: file.TaxRate,
	}
	for _, def := range file.Tiers {
		if def.ID == "" {
			return nil, fmt.Errorf("tier without id")
		}
		if _, dup := c.tiers[def.ID]; dup {
			return nil, fmt.Errorf("duplicate tier: %s", def.ID)
		}
		if def.MonthlyPrice.IsNegative() {
			return nil, fmt.Errorf("tier %s: negative price", def.ID)
		}
		for _, m := range Metrics {
			if l := def.Limits.For(m); l < 0 && l != Unlimited {
				return nil, fmt.Errorf("tier %s: invalid %s limit %d", def.ID, m, l)
			}
		}
		c.tiers[def.ID] = def
		c.ordered = append(c.ordered, def.ID)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.tiers[c.ordered[i]].MonthlyPrice.LessThan(c.tiers[c.ordered[j]].MonthlyPrice)
	})
	return c, nil
}

// Get returns a tier definition.
func (c *Catalog) Get(id ID) (Definition, error) {
	def, ok := c.tiers[id]
	if !ok {
		return Definition{}, &UnknownTierError{ID: id}
	}
	return def, nil
}

// Limits returns a tier's inclusion limits.
func (c *Catalog) Limits(id ID) (Limits, error) {
	def, err := c.Get(id)
	if err != nil {
		return Limits{}, err
	}
	return def.Limits, nil
}

// All returns every tier in ascending price order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, c.tiers[id])
	}
	return out
}

// Public returns the tiers offered for self-service, in ascending price order.
func (c *Catalog) Public() []Definition {
	out := make([]Definition, 0, len(c.ordered))
	for _, id := range c.ordered {
		if def := c.tiers[id]; def.Public {
			out = append(out, def)
		}
	}
	return out
}

// Overage returns the per-unit overage prices.
func (c *Catalog) Overage() OveragePricing {
	return c.overage
}

// TaxRate returns the GST rate as a fraction.
func (c *Catalog) TaxRate() decimal.Decimal {
	return c.taxRate
}

// Highest returns the most expensive public tier.
func (c *Catalog) Highest() ID {
	public := c.Public()
	if len(public) == 0 {
		return c.ordered[len(c.ordered)-1]
	}
	return public[len(public)-1].ID
}

// Parse validates a raw tier id against the catalog.
func (c *Catalog) Parse(raw string) (ID, error) {
	id := ID(raw)
	if _, ok := c.tiers[id]; !ok {
		return "", &UnknownTierError{ID: id}
	}
	return id, nil
}
