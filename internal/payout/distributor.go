package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
	"github.com/roach88/cascade/internal/plan"
	"github.com/roach88/cascade/internal/referral"
)

// CommissionWriter records one cascade level.
type CommissionWriter interface {
	WriteCommission(ctx context.Context, c ledger.Commission) (bool, error)
}

// LevelCredit is one level of a cascade.
type LevelCredit struct {
	Level         int          `json:"level"`
	BeneficiaryID string       `json:"beneficiary_id"`
	Amount        money.Amount `json:"amount"`
	Rate          money.Rate   `json:"rate"`

	// Written is false when the level was already recorded by an earlier
	// attempt (or when computed by Expected).
	Written bool `json:"written"`
}

// Cascade is the result of distributing one return.
type Cascade struct {
	Levels []LevelCredit `json:"levels"`

	// Distributed sums the levels written by this call.
	Distributed money.Amount `json:"distributed"`
}

// Total sums every level regardless of who wrote it.
func (c Cascade) Total() money.Amount {
	var total money.Amount
	for _, l := range c.Levels {
		total += l.Amount
	}
	return total
}

// Distributor applies the level rate table along a referral chain.
type Distributor struct {
	writer CommissionWriter
	walker *referral.Walker
	plan   *plan.Plan
	logger *slog.Logger
}

// NewDistributor creates a distributor.
func NewDistributor(writer CommissionWriter, walker *referral.Walker, p *plan.Plan, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{writer: writer, walker: walker, plan: p, logger: logger}
}

// Distribute writes one commission per ancestor of the return's owner,
// level 1 first, and stops at the first missing ancestor.
//
// Each level is one ledger transaction keyed by (return, level), so calling
// Distribute again for the same return only fills the levels that are
// missing. On error the levels written so far are returned with it.
func (d *Distributor) Distribute(ctx context.Context, source ledger.Account, tier string, r ledger.PeriodicReturn, at time.Time) (Cascade, error) {
	var out Cascade
	for ancestor, err := range d.walker.Ancestors(ctx, r.AccountID, d.plan.MaxDepth()) {
		if err != nil {
			return out, err
		}
		rate, _ := d.plan.LevelRate(ancestor.Level)
		c := ledger.Commission{
			ID:              ledger.CommissionID(r.ID, ancestor.Level),
			BeneficiaryID:   ancestor.AccountID,
			SourceAccountID: r.AccountID,
			ReturnID:        r.ID,
			Period:          r.Period,
			Level:           ancestor.Level,
			Amount:          rate.Apply(r.Amount),
			Rate:            rate,
			Description: fmt.Sprintf("Level %d daily return commission (%s) from %s on %s",
				ancestor.Level, rate.Percent(), source.DisplayName(), tier),
			CreatedAt: at,
		}

		written, err := d.writer.WriteCommission(ctx, c)
		if err != nil {
			return out, fmt.Errorf("level %d to %s: %w", ancestor.Level, ancestor.AccountID, err)
		}
		if written {
			out.Distributed += c.Amount
		} else {
			d.logger.Debug("commission level already recorded",
				"return", r.ID,
				"level", ancestor.Level)
		}
		out.Levels = append(out.Levels, LevelCredit{
			Level:         c.Level,
			BeneficiaryID: c.BeneficiaryID,
			Amount:        c.Amount,
			Rate:          c.Rate,
			Written:       written,
		})
	}
	return out, nil
}

// Expected computes the cascade of r against the current chain without
// writing anything.
func (d *Distributor) Expected(ctx context.Context, r ledger.PeriodicReturn) (Cascade, error) {
	var out Cascade
	for ancestor, err := range d.walker.Ancestors(ctx, r.AccountID, d.plan.MaxDepth()) {
		if err != nil {
			return out, err
		}
		rate, _ := d.plan.LevelRate(ancestor.Level)
		out.Levels = append(out.Levels, LevelCredit{
			Level:         ancestor.Level,
			BeneficiaryID: ancestor.AccountID,
			Amount:        rate.Apply(r.Amount),
			Rate:          rate,
		})
	}
	return out, nil
}
