package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Package is one purchasable token bundle.
type Package struct {
	Key    string `yaml:"key"`
	Tokens int64  `yaml:"tokens"`
}

// Table is the ordered static price mapping. Order matters for substring
// matching.
type Table struct {
	Packages []Package `yaml:"packages"`
}

// DefaultTable returns the built-in packages: the product slugs followed by
// the live provider price ids.
func DefaultTable() Table {
	return Table{Packages: []Package{
		{Key: "7000_tokens", Tokens: 7000},
		{Key: "40000_tokens", Tokens: 40000},
		{Key: "100000_tokens", Tokens: 100000},
		{Key: "price_1R4cZ22NO6PNHfEnEhmEzX2y", Tokens: 7000},
		{Key: "price_1R4cZj2NO6PNHfEn4XiPU4tI", Tokens: 40000},
		{Key: "price_1R4caA2NO6PNHfEncTFmFBd4", Tokens: 100000},
	}}
}

// Lookup returns the tokens for an exact key.
func (t Table) Lookup(key string) (int64, bool) {
	for _, p := range t.Packages {
		if p.Key == key {
			return p.Tokens, true
		}
	}
	return 0, false
}

// Validate rejects empty keys, duplicate keys and non-positive token counts.
func (t Table) Validate() error {
	if len(t.Packages) == 0 {
		return fmt.Errorf("price table has no packages")
	}
	seen := make(map[string]struct{}, len(t.Packages))
	for i, p := range t.Packages {
		if p.Key == "" {
			return fmt.Errorf("package %d: key is required", i)
		}
		if p.Tokens <= 0 {
			return fmt.Errorf("package %q: tokens must be positive, got %d", p.Key, p.Tokens)
		}
		if _, dup := seen[p.Key]; dup {
			return fmt.Errorf("package %q: duplicate key", p.Key)
		}
		seen[p.Key] = struct{}{}
	}
	return nil
}

// LoadTable reads a price table from a YAML file.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read price table: %w", err)
	}
	return ParseTable(raw)
}

// ParseTable decodes and validates a YAML price table.
func ParseTable(raw []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Table{}, fmt.Errorf("parse price table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}
