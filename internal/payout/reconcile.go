package payout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

// Reason classifies a reconciliation mismatch.
type Reason string

const (
	// ReasonPending marks a return reserved but never credited.
	ReasonPending Reason = "pending"

	// ReasonPartialCascade marks a return whose commission rows fall short
	// of (or exceed) the rate-derived cascade over the current chain.
	ReasonPartialCascade Reason = "partial_cascade"

	// ReasonLedgerDrift marks a return whose stored totals disagree with its
	// own commission rows.
	ReasonLedgerDrift Reason = "ledger_drift"

	// ReasonChainChanged marks a return whose recorded beneficiaries are no
	// longer the ancestors at the same levels. Such returns are reported
	// but never repaired.
	ReasonChainChanged Reason = "chain_changed"
)

// ErrChainChanged is returned by Repair when the referral chain was rewired
// after the return's cascade was recorded.
var ErrChainChanged = errors.New("referral chain changed since payout")

// Mismatch is one return flagged by Reconcile.
type Mismatch struct {
	ReturnID  string          `json:"return_id"`
	DepositID string          `json:"deposit_id"`
	AccountID string          `json:"account_id"`
	Period    calendar.Period `json:"period"`
	Reasons   []Reason        `json:"reasons"`

	// Stored is commissions_distributed on the return row.
	Stored money.Amount `json:"stored"`
	// Actual sums the commission rows.
	Actual money.Amount `json:"actual"`
	// Expected is the cascade the plan yields on the current chain.
	Expected money.Amount `json:"expected"`

	ActualLevels   int `json:"actual_levels"`
	ExpectedLevels int `json:"expected_levels"`
}

// ReconcileReport lists the mismatches in a period range.
type ReconcileReport struct {
	From       calendar.Period `json:"from"`
	To         calendar.Period `json:"to"`
	Currency   string          `json:"currency"`
	Checked    int             `json:"checked"`
	Mismatches []Mismatch      `json:"mismatches"`
	Repaired   []RepairResult  `json:"repaired,omitempty"`

	// Skipped lists the returns RepairAll left alone because their chain
	// changed.
	Skipped []string `json:"skipped,omitempty"`
}

// Has reports whether m carries reason.
func (m Mismatch) Has(reason Reason) bool {
	for _, r := range m.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// RepairResult describes the steps Repair re-applied to one return.
type RepairResult struct {
	ReturnID string        `json:"return_id"`
	Credited bool          `json:"credited"`
	Levels   []LevelCredit `json:"levels"`

	Return ledger.PeriodicReturn `json:"return"`
}

// Reconcile checks every return with from <= period <= to.
//
// Expected cascades are derived from the referral chain as it is now. A
// recorded level whose beneficiary differs from the current ancestor at
// that level is flagged chain_changed instead of partial_cascade.
func (e *Engine) Reconcile(ctx context.Context, from, to calendar.Period) (ReconcileReport, error) {
	report := ReconcileReport{From: from, To: to, Currency: e.plan.Currency(), Mismatches: []Mismatch{}}
	e.walker.Purge()

	returns, err := e.ledger.ReturnsInRange(ctx, from, to)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}

	for _, r := range returns {
		report.Checked++

		rows, err := e.ledger.CommissionsForReturn(ctx, r.ID)
		if err != nil {
			return report, fmt.Errorf("reconcile %s: %w", r.ID, err)
		}
		expected, err := e.dist.Expected(ctx, r)
		if err != nil {
			return report, fmt.Errorf("reconcile %s: expected cascade: %w", r.ID, err)
		}

		m := Mismatch{
			ReturnID:       r.ID,
			DepositID:      r.DepositID,
			AccountID:      r.AccountID,
			Period:         r.Period,
			Stored:         r.CommissionsDistributed,
			Expected:       expected.Total(),
			ActualLevels:   len(rows),
			ExpectedLevels: len(expected.Levels),
		}
		drift := false
		for _, c := range rows {
			m.Actual += c.Amount
			if r.Breakdown[c.Level] != c.Amount {
				drift = true
			}
		}
		if len(r.Breakdown) != len(rows) {
			drift = true
		}

		if r.Status == ledger.ReturnPending {
			m.Reasons = append(m.Reasons, ReasonPending)
		}
		switch {
		case !isChainPrefix(rows, expected):
			m.Reasons = append(m.Reasons, ReasonChainChanged)
		// A pending return has not started its cascade yet.
		case r.Status == ledger.ReturnPaid && (m.Actual != m.Expected || m.ActualLevels != m.ExpectedLevels):
			m.Reasons = append(m.Reasons, ReasonPartialCascade)
		}
		if drift || m.Stored != m.Actual {
			m.Reasons = append(m.Reasons, ReasonLedgerDrift)
		}

		if len(m.Reasons) > 0 {
			report.Mismatches = append(report.Mismatches, m)
		}
	}

	e.metrics.observeMismatches(report)
	if len(report.Mismatches) > 0 {
		e.logger.Warn("reconciliation found mismatches",
			"from", from,
			"to", to,
			"checked", report.Checked,
			"mismatches", len(report.Mismatches))
	} else {
		e.logger.Info("reconciliation clean", "from", from, "to", to, "checked", report.Checked)
	}
	return report, nil
}

// Repair re-runs the idempotent saga steps of one return: credit if still
// pending, fill missing cascade levels, then resync the stored totals.
// Levels already recorded are never credited twice.
//
// Missing levels are only filled while the recorded rows still match the
// current chain level by level. Otherwise Repair writes nothing and
// returns ErrChainChanged.
func (e *Engine) Repair(ctx context.Context, returnID string) (RepairResult, error) {
	res := RepairResult{ReturnID: returnID}

	r, err := e.ledger.ReadReturn(ctx, returnID)
	if err != nil {
		return res, fmt.Errorf("repair: %w", err)
	}
	d, err := e.ledger.Deposit(ctx, r.DepositID)
	if err != nil {
		return res, fmt.Errorf("repair %s: %w", returnID, err)
	}
	owner, err := e.ledger.Account(ctx, r.AccountID)
	if err != nil {
		return res, fmt.Errorf("repair %s: %w", returnID, err)
	}
	now := e.cal.Now()

	e.walker.Purge()
	rows, err := e.ledger.CommissionsForReturn(ctx, r.ID)
	if err != nil {
		return res, fmt.Errorf("repair %s: %w", returnID, err)
	}
	expected, err := e.dist.Expected(ctx, r)
	if err != nil {
		return res, fmt.Errorf("repair %s: expected cascade: %w", returnID, err)
	}
	if !isChainPrefix(rows, expected) {
		return res, fmt.Errorf("repair %s: %w", returnID, ErrChainChanged)
	}

	credited, err := e.ledger.MarkReturnPaid(ctx, r.ID, now)
	if err != nil {
		return res, &StepError{Step: StepCredit, DepositID: d.ID, Period: r.Period, At: now, Err: err}
	}
	res.Credited = credited

	cascade, err := e.dist.Distribute(ctx, owner, d.Tier, r, now)
	res.Levels = cascade.Levels
	e.notifyAll(owner, d, r, credited, cascade)
	if err != nil {
		return res, &StepError{Step: StepCascade, DepositID: d.ID, Period: r.Period, At: now, Err: err}
	}

	synced, err := e.ledger.ResyncReturnTotals(ctx, r.ID)
	if err != nil {
		return res, fmt.Errorf("repair %s: %w", returnID, err)
	}
	res.Return = synced

	e.logger.Info("repaired return",
		"return", returnID,
		"deposit", d.ID,
		"period", r.Period,
		"credited", credited,
		"levels", len(cascade.Levels))
	return res, nil
}

// RepairAll repairs every mismatch of report, stopping at the first error.
// Mismatches flagged chain_changed are recorded in Skipped.
func (e *Engine) RepairAll(ctx context.Context, report *ReconcileReport) error {
	for _, m := range report.Mismatches {
		if m.Has(ReasonChainChanged) {
			report.Skipped = append(report.Skipped, m.ReturnID)
			e.logger.Warn("skipping repair, referral chain changed",
				"return", m.ReturnID,
				"deposit", m.DepositID,
				"period", m.Period)
			continue
		}
		res, err := e.Repair(ctx, m.ReturnID)
		if err != nil {
			return err
		}
		report.Repaired = append(report.Repaired, res)
	}
	return nil
}

// Render writes the reconciliation report as text.
func (r ReconcileReport) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Reconciliation %s .. %s\n", r.From, r.To)
	fmt.Fprintf(&b, "  checked:    %d\n", r.Checked)
	fmt.Fprintf(&b, "  mismatches: %d\n", len(r.Mismatches))
	for _, m := range r.Mismatches {
		reasons := make([]string, len(m.Reasons))
		for i, reason := range m.Reasons {
			reasons[i] = string(reason)
		}
		fmt.Fprintf(&b, "  %s deposit=%s period=%s [%s] stored=%s actual=%s expected=%s levels=%d/%d\n",
			m.ReturnID, m.DepositID, m.Period, strings.Join(reasons, ","),
			money.Format(m.Stored), money.Format(m.Actual), money.Format(m.Expected),
			m.ActualLevels, m.ExpectedLevels)
	}
	if len(r.Repaired) > 0 {
		fmt.Fprintf(&b, "  repaired:   %d\n", len(r.Repaired))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "  skipped:    %d (chain changed)\n", len(r.Skipped))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// isChainPrefix reports whether every recorded row pays the ancestor the
// current chain has at the same level.
func isChainPrefix(rows []ledger.Commission, expected Cascade) bool {
	for _, c := range rows {
		if c.Level < 1 || c.Level > len(expected.Levels) {
			return false
		}
		if expected.Levels[c.Level-1].BeneficiaryID != c.BeneficiaryID {
			return false
		}
	}
	return true
}
