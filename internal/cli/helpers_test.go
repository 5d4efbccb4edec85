package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/calendar"
)

// testNow is 2024-06-01 00:00 in Addis Ababa.
var testNow = time.Date(2024, 5, 31, 21, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (s *recordingSender) Send(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = map[int64][]string{}
	}
	s.sent[chatID] = append(s.sent[chatID], text)
	return nil
}

func (s *recordingSender) messages(chatID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent[chatID]...)
}

// testEnv isolates a command run: empty working dir and HOME so no config
// file is found, a temp database, a fixed clock.
type testEnv struct {
	t       *testing.T
	dbPath  string
	fixture string
	clock   *calendar.FixedClock
	sender  *recordingSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fixture, err := filepath.Abs(filepath.Join("testdata", "network.yaml"))
	require.NoError(t, err)

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return &testEnv{
		t:       t,
		dbPath:  filepath.Join(dir, "cascade.db"),
		fixture: fixture,
		clock:   calendar.NewFixedClock(testNow),
		sender:  &recordingSender{},
	}
}

// run executes the root command with args and the env's --db.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	return e.runContext(context.Background(), args...)
}

func (e *testEnv) runContext(ctx context.Context, args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{Clock: e.clock, Sender: e.sender})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append(args, "--db", e.dbPath))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// seed loads the network fixture.
func (e *testEnv) seed() {
	e.t.Helper()
	_, err := e.run("seed", e.fixture)
	require.NoError(e.t, err)
}
