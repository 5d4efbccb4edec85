// Package plan holds the product configuration: the payout rate of every
// package tier and the commission rate of every referral level.
//
// Plans are CUE documents unified against an embedded schema, so a rate
// outside [0, 1] or an empty level table is rejected at load time rather
// than discovered mid-batch.
package plan

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/shopspring/decimal"

	"github.com/roach88/cascade/internal/money"
)

//go:embed schema.cue
var schemaCUE string

//go:embed default.cue
var defaultCUE []byte

// Tier is a package tier.
type Tier struct {
	Name string
	Rate money.Rate
	// Principal is the nominal deposit size of the tier. Informational only;
	// payouts are computed from the deposit's own principal.
	Principal money.Amount
}

// Plan maps tiers to payout rates and levels to commission rates.
// Immutable after construction; safe for concurrent use.
type Plan struct {
	currency string
	tiers    map[string]Tier
	levels   []money.Rate
}

// UnknownPackageError is returned when a deposit references a tier the plan
// does not configure. The deposit is skipped; the batch continues.
type UnknownPackageError struct {
	Tier string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package tier %q", e.Tier)
}

// ErrNegativePrincipal is returned by ComputeReturn for a principal below
// zero. Such a deposit is corrupt, not merely unconfigured.
var ErrNegativePrincipal = errors.New("negative principal")

// IsUnknownPackage reports whether err is an UnknownPackageError.
// Uses errors.As to handle wrapped errors.
func IsUnknownPackage(err error) bool {
	var upe *UnknownPackageError
	return errors.As(err, &upe)
}

// New builds a plan from explicit tiers and level rates.
func New(currency string, tiers []Tier, levels []money.Rate) (*Plan, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("plan: at least one commission level required")
	}
	if currency == "" {
		currency = "ETB"
	}
	p := &Plan{
		currency: currency,
		tiers:    make(map[string]Tier, len(tiers)),
		levels:   append([]money.Rate(nil), levels...),
	}
	for _, t := range tiers {
		if t.Name == "" {
			return nil, fmt.Errorf("plan: tier with empty name")
		}
		if _, dup := p.tiers[t.Name]; dup {
			return nil, fmt.Errorf("plan: duplicate tier %q", t.Name)
		}
		p.tiers[t.Name] = t
	}
	if share := p.CascadeShare(); share.Decimal().GreaterThan(money.MustRate("1").Decimal()) {
		return nil, fmt.Errorf("plan: commission levels sum to %s, exceeding the payout", share.Percent())
	}
	return p, nil
}

// Default returns the built-in plan.
func Default() *Plan {
	p, err := Parse("default.cue", defaultCUE)
	if err != nil {
		panic(fmt.Sprintf("embedded default plan invalid: %v", err))
	}
	return p
}

// Load reads a plan file. An empty path returns the default plan.
func Load(path string) (*Plan, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(path, src)
}

type tierDoc struct {
	Rate      float64  `json:"rate"`
	Principal *float64 `json:"principal,omitempty"`
}

type planDoc struct {
	Currency string             `json:"currency"`
	Tiers    map[string]tierDoc `json:"tiers"`
	Levels   []float64          `json:"levels"`
}

// Parse compiles src as CUE, unifies it with the plan schema and decodes it.
func Parse(filename string, src []byte) (*Plan, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("compile plan %s: %w", filename, err)
	}

	value := schema.Unify(data)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate plan %s: %w", filename, err)
	}

	var doc planDoc
	if err := value.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", filename, err)
	}

	tiers := make([]Tier, 0, len(doc.Tiers))
	for name, td := range doc.Tiers {
		rate, err := money.RateFromFloat(td.Rate)
		if err != nil {
			return nil, fmt.Errorf("plan %s: tier %q: %w", filename, name, err)
		}
		tier := Tier{Name: name, Rate: rate}
		if td.Principal != nil {
			// shortest decimal form, so 0.29 is 29 minor units and not 28
			tier.Principal = money.Amount(decimal.NewFromFloat(*td.Principal).Shift(2).Round(0).IntPart())
		}
		tiers = append(tiers, tier)
	}

	levels := make([]money.Rate, 0, len(doc.Levels))
	for i, f := range doc.Levels {
		rate, err := money.RateFromFloat(f)
		if err != nil {
			return nil, fmt.Errorf("plan %s: level %d: %w", filename, i+1, err)
		}
		levels = append(levels, rate)
	}

	return New(doc.Currency, tiers, levels)
}

// ComputeReturn returns principal × rate(tier) and the rate applied.
// Returns *UnknownPackageError when the tier is not configured.
func (p *Plan) ComputeReturn(tier string, principal money.Amount) (money.Amount, money.Rate, error) {
	t, ok := p.tiers[tier]
	if !ok {
		return 0, money.Rate{}, &UnknownPackageError{Tier: tier}
	}
	if principal < 0 {
		return 0, money.Rate{}, fmt.Errorf("tier %q: %w: %s", tier, ErrNegativePrincipal, principal)
	}
	return t.Rate.Apply(principal), t.Rate, nil
}

// LevelRate returns the commission rate of level (1-based).
func (p *Plan) LevelRate(level int) (money.Rate, bool) {
	if level < 1 || level > len(p.levels) {
		return money.Rate{}, false
	}
	return p.levels[level-1], true
}

// Levels returns a copy of the level rate table.
func (p *Plan) Levels() []money.Rate {
	return append([]money.Rate(nil), p.levels...)
}

// MaxDepth is the number of ancestor levels a cascade may reach.
func (p *Plan) MaxDepth() int {
	return len(p.levels)
}

// CascadeShare is the sum of all level rates: the fraction of a payout
// distributed when the chain is full.
func (p *Plan) CascadeShare() money.Rate {
	var share money.Rate
	for _, r := range p.levels {
		share = share.Add(r)
	}
	return share
}

// Currency is the display currency code.
func (p *Plan) Currency() string {
	return p.currency
}

// Tier looks up a tier by name.
func (p *Plan) Tier(name string) (Tier, bool) {
	t, ok := p.tiers[name]
	return t, ok
}

// Tiers returns all tiers ordered by name.
func (p *Plan) Tiers() []Tier {
	out := make([]Tier, 0, len(p.tiers))
	for _, t := range p.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
