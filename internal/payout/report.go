package payout

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/money"
)

// Outcome is how a run handled one deposit.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeDuplicate   Outcome = "skipped_duplicate"
	OutcomeUnknownTier Outcome = "skipped_unknown_tier"
	OutcomeFailed      Outcome = "failed"
)

// DepositResult describes one deposit in a run.
type DepositResult struct {
	DepositID   string       `json:"deposit_id"`
	AccountID   string       `json:"account_id"`
	Tier        string       `json:"tier"`
	Outcome     Outcome      `json:"outcome"`
	Resumed     bool         `json:"resumed,omitempty"`
	Return      money.Amount `json:"return"`
	Commissions money.Amount `json:"commissions"`
	Levels      int          `json:"levels"`
	Step        Step         `json:"step,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Failure is a per-deposit error kept in the report.
type Failure struct {
	DepositID string `json:"deposit_id"`
	Step      Step   `json:"step,omitempty"`
	Error     string `json:"error"`
}

// Report summarizes a run. Totals count only what this run credited.
type Report struct {
	Period     calendar.Period `json:"period"`
	Currency   string          `json:"currency"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`

	Eligible           int `json:"eligible"`
	Processed          int `json:"processed"`
	Resumed            int `json:"resumed"`
	SkippedDuplicate   int `json:"skipped_duplicate"`
	SkippedUnknownTier int `json:"skipped_unknown_tier"`
	Failed             int `json:"failed"`

	TotalReturns     money.Amount `json:"total_returns"`
	TotalCommissions money.Amount `json:"total_commissions"`

	Failures []Failure       `json:"failures"`
	Results  []DepositResult `json:"results"`
}

func (r *Report) add(res DepositResult) {
	switch res.Outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeDuplicate:
		r.SkippedDuplicate++
	case OutcomeUnknownTier:
		r.SkippedUnknownTier++
		r.Failures = append(r.Failures, Failure{DepositID: res.DepositID, Error: res.Error})
	case OutcomeFailed:
		r.Failed++
		r.Failures = append(r.Failures, Failure{DepositID: res.DepositID, Step: res.Step, Error: res.Error})
	}
	if res.Resumed {
		r.Resumed++
	}
	// A cascade failure still keeps what was credited before it.
	r.TotalReturns += res.Return
	r.TotalCommissions += res.Commissions
	r.Results = append(r.Results, res)
}

// Render writes the report as text.
func (r Report) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Payout run for %s\n", r.Period)
	fmt.Fprintf(&b, "  eligible:             %d\n", r.Eligible)
	fmt.Fprintf(&b, "  processed:            %d\n", r.Processed)
	fmt.Fprintf(&b, "  resumed:              %d\n", r.Resumed)
	fmt.Fprintf(&b, "  skipped (duplicate):  %d\n", r.SkippedDuplicate)
	fmt.Fprintf(&b, "  skipped (unknown):    %d\n", r.SkippedUnknownTier)
	fmt.Fprintf(&b, "  failed:               %d\n", r.Failed)
	fmt.Fprintf(&b, "  total returns:        %s\n", r.amount(r.TotalReturns))
	fmt.Fprintf(&b, "  total commissions:    %s\n", r.amount(r.TotalCommissions))
	if len(r.Results) > 0 {
		b.WriteString("Deposits:\n")
		for _, res := range r.Results {
			fmt.Fprintf(&b, "  %-12s %-20s return=%s commissions=%s levels=%d\n",
				res.DepositID, res.Outcome, r.amount(res.Return), r.amount(res.Commissions), res.Levels)
		}
	}
	if len(r.Failures) > 0 {
		b.WriteString("Failures:\n")
		for _, f := range r.Failures {
			if f.Step != "" {
				fmt.Fprintf(&b, "  %s [%s] %s\n", f.DepositID, f.Step, f.Error)
			} else {
				fmt.Fprintf(&b, "  %s %s\n", f.DepositID, f.Error)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (r Report) amount(a money.Amount) string {
	if r.Currency == "" {
		return money.Format(a)
	}
	return money.Format(a) + " " + r.Currency
}
