package payout

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/fixture"
	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
	"github.com/roach88/cascade/internal/notify"
	"github.com/roach88/cascade/internal/plan"
	"github.com/roach88/cascade/internal/store"
)

var testPeriod = calendar.MustParsePeriod("2024-06-01")

// midnight of testPeriod in Addis Ababa
var testNow = time.Date(2024, 5, 31, 21, 0, 0, 0, time.UTC)

var errInjected = errors.New("injected failure")

// createTestStore opens a ledger in a temp directory.
func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedFixture applies testdata/<name>.yaml to s.
func seedFixture(t *testing.T, s *store.Store, name string) {
	t.Helper()
	f, err := fixture.Load(filepath.Join("testdata", name+".yaml"))
	require.NoError(t, err)
	_, err = f.Apply(context.Background(), s, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
}

func newTestCalendar(t *testing.T) (*calendar.Calendar, *calendar.FixedClock) {
	t.Helper()
	loc, err := calendar.LoadLocation(calendar.DefaultTimezone)
	require.NoError(t, err)
	clock := calendar.NewFixedClock(testNow)
	return calendar.New(clock, loc), clock
}

func newTestEngine(t *testing.T, l Ledger, opts ...Option) *Engine {
	t.Helper()
	cal, _ := newTestCalendar(t)
	e, err := New(l, plan.Default(), cal, opts...)
	require.NoError(t, err)
	return e
}

func balance(t *testing.T, s *store.Store, id string) money.Amount {
	t.Helper()
	a, err := s.Account(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func balances(t *testing.T, s *store.Store) map[string]money.Amount {
	t.Helper()
	accounts, err := s.Accounts(context.Background())
	require.NoError(t, err)
	out := make(map[string]money.Amount, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a.Balance
	}
	return out
}

// flakyLedger fails selected writes on top of a real store.
type flakyLedger struct {
	*store.Store

	failLevel    int
	failCredit   bool
	failDeposits bool
}

func (f *flakyLedger) WriteCommission(ctx context.Context, c ledger.Commission) (bool, error) {
	if c.Level == f.failLevel {
		return false, errInjected
	}
	return f.Store.WriteCommission(ctx, c)
}

func (f *flakyLedger) MarkReturnPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.failCredit {
		return false, errInjected
	}
	return f.Store.MarkReturnPaid(ctx, id, at)
}

func (f *flakyLedger) CompletedDeposits(ctx context.Context) ([]ledger.Deposit, error) {
	if f.failDeposits {
		return nil, errInjected
	}
	return f.Store.CompletedDeposits(ctx)
}

// recordingNotifier collects events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(accountID string, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) byAccount(id string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out
}
