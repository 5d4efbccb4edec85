package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/notify"
	"github.com/roach88/cascade/internal/plan"
	"github.com/roach88/cascade/internal/referral"
)

// Ledger is the storage surface the engine needs. *store.Store satisfies it.
type Ledger interface {
	Reserver
	CommissionWriter
	referral.ParentLookup

	CompletedDeposits(ctx context.Context) ([]ledger.Deposit, error)
	Account(ctx context.Context, id string) (ledger.Account, error)
	Deposit(ctx context.Context, id string) (ledger.Deposit, error)
	MarkReturnPaid(ctx context.Context, returnID string, processedAt time.Time) (bool, error)
	ReadReturn(ctx context.Context, id string) (ledger.PeriodicReturn, error)
	ReturnsInRange(ctx context.Context, from, to calendar.Period) ([]ledger.PeriodicReturn, error)
	CommissionsForReturn(ctx context.Context, returnID string) ([]ledger.Commission, error)
	ResyncReturnTotals(ctx context.Context, returnID string) (ledger.PeriodicReturn, error)
}

// Notifier receives events after the ledger writes. It must not block.
type Notifier interface {
	Notify(accountID string, e notify.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, notify.Event) {}

// Engine runs payouts for a period.
type Engine struct {
	ledger   Ledger
	plan     *plan.Plan
	cal      *calendar.Calendar
	walker   *referral.Walker
	guard    *Guard
	dist     *Distributor
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger

	concurrency int
	cacheSize   int

	mu   sync.Mutex
	last *Report
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the event sink. Default discards events.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMetrics sets the Prometheus collectors. Default is none.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConcurrency caps how many deposits a run processes at once. The
// default of 1 processes deposits sequentially.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCacheSize sets the referral link cache size.
func WithCacheSize(n int) Option {
	return func(e *Engine) { e.cacheSize = n }
}

// New creates an engine.
func New(l Ledger, p *plan.Plan, cal *calendar.Calendar, opts ...Option) (*Engine, error) {
	if l == nil || p == nil || cal == nil {
		return nil, errors.New("payout: ledger, plan and calendar are required")
	}
	e := &Engine{
		ledger:      l,
		plan:        p,
		cal:         cal,
		notifier:    nopNotifier{},
		logger:      slog.Default(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}

	walker, err := referral.NewWalker(l, e.cacheSize, e.logger)
	if err != nil {
		return nil, err
	}
	e.walker = walker
	e.guard = NewGuard(l)
	e.dist = NewDistributor(l, walker, p, e.logger)
	return e, nil
}

// Plan returns the plan the engine pays with.
func (e *Engine) Plan() *plan.Plan {
	return e.plan
}

// RunCurrent runs the payout for today's period. It is the task the
// scheduler and manual triggers both invoke.
func (e *Engine) RunCurrent(ctx context.Context) error {
	_, err := e.Run(ctx, e.cal.Today())
	return err
}

// LastReport returns the report of the most recent run, if any.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Report{}, false
	}
	return *e.last, true
}

// Run pays every completed deposit for period.
func (e *Engine) Run(ctx context.Context, period calendar.Period) (Report, error) {
	started := e.cal.Now()
	report := Report{Period: period, StartedAt: started, Currency: e.plan.Currency()}

	// Links may have been rewired since the last run.
	e.walker.Purge()

	deposits, err := e.ledger.CompletedDeposits(ctx)
	if err != nil {
		e.logger.Error("payout run aborted: cannot enumerate deposits",
			"period", period,
			"at", started.Format(time.RFC3339),
			"error", err)
		return report, fmt.Errorf("enumerate deposits: %w", err)
	}
	report.Eligible = len(deposits)

	e.logger.Info("payout run started",
		"period", period,
		"eligible", len(deposits),
		"local_time", started.Format("2006-01-02 15:04:05 MST"))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, d := range deposits {
		g.Go(func() error {
			res := e.processDeposit(ctx, period, d)
			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = e.cal.Now()
	report.sortResults()
	e.metrics.observeRun(report.FinishedAt.Sub(started))

	e.logger.Info("payout run completed",
		"period", period,
		"processed", report.Processed,
		"resumed", report.Resumed,
		"duplicates", report.SkippedDuplicate,
		"unknown_tier", report.SkippedUnknownTier,
		"failed", report.Failed,
		"total_returns", report.TotalReturns.String(),
		"total_commissions", report.TotalCommissions.String())

	e.mu.Lock()
	e.last = &report
	e.mu.Unlock()
	return report, nil
}

func (e *Engine) processDeposit(ctx context.Context, period calendar.Period, d ledger.Deposit) DepositResult {
	res := DepositResult{DepositID: d.ID, AccountID: d.AccountID, Tier: d.Tier}
	now := e.cal.Now()

	amount, rate, err := e.plan.ComputeReturn(d.Tier, d.Principal)
	if err != nil && !plan.IsUnknownPackage(err) {
		return e.fail(res, &StepError{Step: StepCompute, DepositID: d.ID, Period: period, At: now, Err: err})
	}
	if err != nil {
		e.logger.Warn("skipping deposit with unknown package",
			"deposit", d.ID,
			"tier", d.Tier,
			"period", period)
		res.Outcome = OutcomeUnknownTier
		res.Error = err.Error()
		e.metrics.observeOutcome(res.Outcome)
		return res
	}

	owner, err := e.ledger.Account(ctx, d.AccountID)
	if err != nil {
		return e.fail(res, &StepError{Step: StepLoad, DepositID: d.ID, Period: period, At: now, Err: err})
	}

	reservation, err := e.guard.TryReserve(ctx, ledger.PeriodicReturn{
		ID:          ledger.ReturnID(d.ID, period),
		DepositID:   d.ID,
		AccountID:   d.AccountID,
		Period:      period,
		Amount:      amount,
		Rate:        rate,
		ProcessedAt: now,
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		e.logger.Debug("deposit already paid for period", "deposit", d.ID, "period", period)
		res.Outcome = OutcomeDuplicate
		e.metrics.observeOutcome(res.Outcome)
		return res
	}
	if err != nil {
		return e.fail(res, &StepError{Step: StepReserve, DepositID: d.ID, Period: period, At: now, Err: err})
	}
	ret := reservation.Return
	res.Resumed = reservation.Resumed
	if reservation.Resumed {
		e.logger.Info("resuming interrupted payout", "deposit", d.ID, "period", period, "return", ret.ID)
	}

	credited, err := e.ledger.MarkReturnPaid(ctx, ret.ID, now)
	if err != nil {
		return e.fail(res, &StepError{Step: StepCredit, DepositID: d.ID, Period: period, At: now, Err: err})
	}
	if !credited {
		// Another run paid the slot between our reserve and credit.
		res.Outcome = OutcomeDuplicate
		res.Resumed = false
		e.metrics.observeOutcome(res.Outcome)
		return res
	}
	res.Return = ret.Amount
	e.metrics.observeReturn(ret.Amount)

	cascade, err := e.dist.Distribute(ctx, owner, d.Tier, ret, now)
	e.recordCascade(&res, cascade)
	e.notifyAll(owner, d, ret, true, cascade)
	if err != nil {
		return e.fail(res, &StepError{Step: StepCascade, DepositID: d.ID, Period: period, At: now, Err: err})
	}

	res.Outcome = OutcomeProcessed
	e.metrics.observeOutcome(res.Outcome)
	e.logger.Debug("processed deposit",
		"deposit", d.ID,
		"account", owner.DisplayName(),
		"amount", ret.Amount.String(),
		"levels", len(cascade.Levels))
	return res
}

func (e *Engine) recordCascade(res *DepositResult, cascade Cascade) {
	for _, l := range cascade.Levels {
		if !l.Written {
			continue
		}
		res.Commissions += l.Amount
		res.Levels++
		e.metrics.observeCommission(strconv.Itoa(l.Level), l.Amount)
	}
}

func (e *Engine) fail(res DepositResult, se *StepError) DepositResult {
	e.logger.Error("deposit payout failed",
		"deposit", se.DepositID,
		"period", se.Period,
		"step", se.Step,
		"at", se.At.Format(time.RFC3339),
		"error", se.Err)
	res.Outcome = OutcomeFailed
	res.Step = se.Step
	res.Error = se.Error()
	e.metrics.observeOutcome(res.Outcome)
	e.metrics.observeStepFailure(se.Step)
	return res
}

func (e *Engine) notifyAll(owner ledger.Account, d ledger.Deposit, ret ledger.PeriodicReturn, credited bool, cascade Cascade) {
	currency := e.plan.Currency()
	if credited {
		e.notifier.Notify(owner.ID, notify.Event{
			Kind:      notify.KindReturnCredited,
			AccountID: owner.ID,
			Period:    ret.Period,
			Tier:      d.Tier,
			Amount:    ret.Amount,
			Rate:      ret.Rate,
			Balance:   owner.Balance + ret.Amount,
			Currency:  currency,
		})
	}
	for _, l := range cascade.Levels {
		if !l.Written {
			continue
		}
		e.notifier.Notify(l.BeneficiaryID, notify.Event{
			Kind:       notify.KindCommissionEarned,
			AccountID:  l.BeneficiaryID,
			Period:     ret.Period,
			Tier:       d.Tier,
			Amount:     l.Amount,
			Rate:       l.Rate,
			Level:      l.Level,
			SourceName: owner.DisplayName(),
			Currency:   currency,
		})
	}
}

// sortResults orders per-deposit results by deposit ID so reports are
// stable under concurrent processing.
func (r *Report) sortResults() {
	sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].DepositID < r.Results[j].DepositID })
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].DepositID < r.Failures[j].DepositID })
}
