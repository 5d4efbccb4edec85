package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
	"github.com/roach88/cascade/internal/store"
)

// recentCommissions caps the commission list in history output.
const recentCommissions = 20

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Account string
	Period  string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show an account's returns, stats and commissions",
		Long: `Show what an account has been paid: returns in the selected window, totals
for today and the current month, totals per package tier, and commissions
earned grouped by level with the most recent entries.

Windows: today, week (last 7 days), month (last 30 days).

Example:
  cascade history --account 64f1c2 --period week`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "account id (required)")
	cmd.Flags().StringVar(&opts.Period, "period", "month", "window: today|week|month")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

// historyWindow resolves a named window ending today.
func historyWindow(name string, today calendar.Period) (from, to calendar.Period, err error) {
	switch name {
	case "today":
		return today, today, nil
	case "week":
		return today.AddDays(-7), today, nil
	case "month":
		return today.AddDays(-30), today, nil
	}
	return "", "", fmt.Errorf("unknown period %q: must be today, week or month", name)
}

type history struct {
	Account     ledger.Account          `json:"account"`
	Currency    string                  `json:"currency"`
	From        calendar.Period         `json:"from"`
	To          calendar.Period         `json:"to"`
	Returns     []ledger.PeriodicReturn `json:"returns"`
	Stats       store.ReturnStats       `json:"stats"`
	ByLevel     []store.LevelTotal      `json:"commissions_by_level"`
	Commissions []ledger.Commission     `json:"recent_commissions"`
}

func (h history) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) balance %s %s\n", h.Account.DisplayName(), h.Account.ID, money.Format(h.Account.Balance), h.Currency)
	fmt.Fprintf(&b, "Returns %s .. %s: %d\n", h.From, h.To, len(h.Returns))
	for _, r := range h.Returns {
		fmt.Fprintf(&b, "  %s  %-8s %12s  deposit=%s\n", r.Period, r.Status, money.Format(r.Amount), r.DepositID)
	}
	fmt.Fprintf(&b, "Totals: all=%s today=%s month=%s commissions=%s\n",
		money.Format(h.Stats.Total), money.Format(h.Stats.Today), money.Format(h.Stats.Month), money.Format(h.Stats.Commissions))
	for _, t := range h.Stats.ByTier {
		fmt.Fprintf(&b, "  %-20s total=%s count=%d avg=%s\n", t.Tier, money.Format(t.Total), t.Count, money.Format(t.Average))
	}
	if len(h.ByLevel) > 0 {
		b.WriteString("Commissions by level:\n")
		for _, l := range h.ByLevel {
			fmt.Fprintf(&b, "  level %d: %s (%d)\n", l.Level, money.Format(l.Total), l.Count)
		}
	}
	for _, c := range h.Commissions {
		fmt.Fprintf(&b, "  %s  %s\n", c.Period, c.Description)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	app, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	today := app.Calendar.Today()
	from, to, err := historyWindow(opts.Period, today)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --period", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	acct, err := app.Store.Account(ctx, opts.Account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WrapExitError(ExitCommandError, "unknown account", err)
		}
		return WrapExitError(ExitFailure, "failed to read account", err)
	}

	h := history{Account: acct, Currency: app.Plan.Currency(), From: from, To: to}
	if h.Returns, err = app.Store.ListReturns(ctx, acct.ID, from, to); err != nil {
		return WrapExitError(ExitFailure, "failed to list returns", err)
	}
	if h.Stats, err = app.Store.ReturnStats(ctx, acct.ID, today, today.MonthStart(), today.MonthEnd()); err != nil {
		return WrapExitError(ExitFailure, "failed to compute stats", err)
	}
	if h.ByLevel, err = app.Store.CommissionsByLevel(ctx, acct.ID); err != nil {
		return WrapExitError(ExitFailure, "failed to group commissions", err)
	}
	if h.Commissions, err = app.Store.ListCommissions(ctx, acct.ID, from, to); err != nil {
		return WrapExitError(ExitFailure, "failed to list commissions", err)
	}
	if len(h.Commissions) > recentCommissions {
		h.Commissions = h.Commissions[:recentCommissions]
	}

	return newFormatter(opts.RootOptions, cmd).Success(h)
}
