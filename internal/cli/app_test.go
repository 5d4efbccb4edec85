package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/fixture"
)

func openTestApp(t *testing.T, env *testEnv) *App {
	t.Helper()
	opts := &RootOptions{Format: "text", Clock: env.clock, Sender: env.sender}
	cmd := newRootCommand(opts)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.PersistentFlags().Set("db", env.dbPath))

	app, err := openApp(opts, cmd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	f, err := fixture.Load(env.fixture)
	require.NoError(t, err)
	_, err = f.Apply(context.Background(), app.Store, env.clock.Now())
	require.NoError(t, err)
	return app
}

func runJob(t *testing.T, app *App, name string) {
	t.Helper()
	job, ok := app.Scheduler.Job(name)
	require.True(t, ok, name)
	require.NoError(t, job.Run(context.Background()))
}

func TestApp_RegistersJobs(t *testing.T) {
	env := newTestEnv(t)
	app := openTestApp(t, env)

	var names []string
	for _, j := range app.Scheduler.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{JobDailyReturns, JobLedgerStats, JobMonthlyReconcile}, names)
}

func TestApp_LedgerStatsJob(t *testing.T) {
	env := newTestEnv(t)
	app := openTestApp(t, env)

	runJob(t, app, JobDailyReturns)
	runJob(t, app, JobLedgerStats)

	expected := `
# HELP cascade_ledger_records Ledger row counts from the last stats snapshot.
# TYPE cascade_ledger_records gauge
cascade_ledger_records{kind="accounts"} 10
cascade_ledger_records{kind="commissions"} 6
cascade_ledger_records{kind="completed_deposits"} 4
cascade_ledger_records{kind="returns"} 3
`
	require.NoError(t, promtest.GatherAndCompare(app.Registry, strings.NewReader(expected), "cascade_ledger_records"))
}

func TestApp_MonthlyReconcileChecksPreviousMonth(t *testing.T) {
	env := newTestEnv(t)
	app := openTestApp(t, env)

	runJob(t, app, JobDailyReturns)
	_, err := app.Store.DB().Exec(`DELETE FROM commissions WHERE level = 4`)
	require.NoError(t, err)

	// Still June: the job looks at May, which has no returns.
	runJob(t, app, JobMonthlyReconcile)
	clean := `
# HELP cascade_reconcile_mismatches Returns flagged by the last reconciliation, by reason.
# TYPE cascade_reconcile_mismatches gauge
cascade_reconcile_mismatches{reason="chain_changed"} 0
cascade_reconcile_mismatches{reason="ledger_drift"} 0
cascade_reconcile_mismatches{reason="partial_cascade"} 0
cascade_reconcile_mismatches{reason="pending"} 0
`
	require.NoError(t, promtest.GatherAndCompare(app.Registry, strings.NewReader(clean), "cascade_reconcile_mismatches"))

	// On July 1st June is checked and the lost level shows up.
	env.clock.Set(time.Date(2024, 6, 30, 21, 0, 0, 0, time.UTC))
	require.Equal(t, "2024-07-01", app.Calendar.Today().String())
	runJob(t, app, JobMonthlyReconcile)
	flagged := `
# HELP cascade_reconcile_mismatches Returns flagged by the last reconciliation, by reason.
# TYPE cascade_reconcile_mismatches gauge
cascade_reconcile_mismatches{reason="chain_changed"} 0
cascade_reconcile_mismatches{reason="ledger_drift"} 1
cascade_reconcile_mismatches{reason="partial_cascade"} 1
cascade_reconcile_mismatches{reason="pending"} 0
`
	require.NoError(t, promtest.GatherAndCompare(app.Registry, strings.NewReader(flagged), "cascade_reconcile_mismatches"))
}


func TestMetricsMux_HealthzPingsLedger(t *testing.T) {
	env := newTestEnv(t)
	app := openTestApp(t, env)
	mux := newMetricsMux(app)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	require.NoError(t, app.Store.Close())
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
