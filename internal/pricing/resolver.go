// Package pricing maps a price key to the number of tokens it buys.
package pricing

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/decyphers/platform/internal/domain"
)

// Rule names reported in a Resolution.
const (
	RuleExact     = "exact"
	RuleSubstring = "substring"
	RuleMetadata  = "metadata"
	RuleTier      = "tier"
)

// Input carries everything a rule may look at.
type Input struct {
	PriceKey string
	Metadata map[string]string
	// UnitAmount is in currency units, not cents.
	UnitAmount decimal.Decimal
}

// Rule yields a positive token count, or ok=false to defer to the next rule.
type Rule interface {
	Name() string
	Apply(in Input) (tokens int64, ok bool)
}

// Resolution is a successful lookup.
type Resolution struct {
	Tokens int64
	Rule   string
}

// Resolver evaluates its rules in order and stops at the first match.
type Resolver struct {
	rules []Rule
}

// NewResolver creates a resolver over an explicit rule list.
func NewResolver(rules ...Rule) *Resolver {
	return &Resolver{rules: rules}
}

// NewDefaultResolver builds the standard chain over a package table:
// exact, substring, provider metadata, then price tiers.
func NewDefaultResolver(table Table) *Resolver {
	return NewResolver(
		ExactRule{Table: table},
		SubstringRule{Table: table},
		MetadataRule{Key: domain.MetaTokens},
		TierRule{Tiers: DefaultTiers()},
	)
}

// Resolve returns the token count for a price. It fails with
// UnresolvablePrice only when every rule declined.
func (r *Resolver) Resolve(priceKey string, metadata map[string]string, unitAmount decimal.Decimal) (Resolution, error) {
	in := Input{PriceKey: priceKey, Metadata: metadata, UnitAmount: unitAmount}
	for _, rule := range r.rules {
		if tokens, ok := rule.Apply(in); ok && tokens > 0 {
			return Resolution{Tokens: tokens, Rule: rule.Name()}, nil
		}
	}
	return Resolution{}, domain.ErrUnresolvablePrice(priceKey)
}

// FromMinorUnits converts a provider amount in cents to currency units.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ExactRule matches the price key against the table verbatim.
type ExactRule struct {
	Table Table
}

func (ExactRule) Name() string { return RuleExact }

func (r ExactRule) Apply(in Input) (int64, bool) {
	if in.PriceKey == "" {
		return 0, false
	}
	return r.Table.Lookup(in.PriceKey)
}

// SubstringRule matches when the price key contains a table key. Entries
// are tried in declaration order.
type SubstringRule struct {
	Table Table
}

func (SubstringRule) Name() string { return RuleSubstring }

func (r SubstringRule) Apply(in Input) (int64, bool) {
	if in.PriceKey == "" {
		return 0, false
	}
	for _, p := range r.Table.Packages {
		if strings.Contains(in.PriceKey, p.Key) {
			return p.Tokens, true
		}
	}
	return 0, false
}

// MetadataRule reads an explicit token count from provider price metadata.
type MetadataRule struct {
	Key string
}

func (MetadataRule) Name() string { return RuleMetadata }

func (r MetadataRule) Apply(in Input) (int64, bool) {
	raw, ok := in.Metadata[r.Key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Tier caps a price band: unit amounts up to and including Max buy Tokens.
type Tier struct {
	Max    decimal.Decimal
	Tokens int64
}

// TierTable is an ascending list of tiers plus the count for anything above
// the last one.
type TierTable struct {
	Tiers   []Tier
	Ceiling int64
}

// DefaultTiers is 7000 tokens up to 10 units, 40000 up to 50, 100000 above.
func DefaultTiers() TierTable {
	return TierTable{
		Tiers: []Tier{
			{Max: decimal.NewFromInt(10), Tokens: 7000},
			{Max: decimal.NewFromInt(50), Tokens: 40000},
		},
		Ceiling: 100000,
	}
}

// TierRule falls back to price bands. A missing or non-positive amount
// yields nothing.
type TierRule struct {
	Tiers TierTable
}

func (TierRule) Name() string { return RuleTier }

func (r TierRule) Apply(in Input) (int64, bool) {
	if !in.UnitAmount.IsPositive() {
		return 0, false
	}
	for _, t := range r.Tiers.Tiers {
		if in.UnitAmount.LessThanOrEqual(t.Max) {
			return t.Tokens, true
		}
	}
	return r.Tiers.Ceiling, r.Tiers.Ceiling > 0
}
