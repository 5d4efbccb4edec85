package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/cascade/internal/calendar"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"accounts", "deposits", "periodic_returns", "commissions"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_PreservesLedgerAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	mustCreateAccount(t, s1, "A", "")
	mustCreateDeposit(t, s1, "d1", "A", "1st Stock Package", 300000)
	r := createTestReturn("d1", "A", calendar.MustParsePeriod("2025-03-14"), 45000)
	if _, _, err := s1.ReserveReturn(ctx, r); err != nil {
		t.Fatalf("ReserveReturn() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	_, inserted, err := s2.ReserveReturn(ctx, r)
	if err != nil {
		t.Fatalf("ReserveReturn() after reopen failed: %v", err)
	}
	if inserted {
		t.Error("reserve after restart inserted a second record for the same slot")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPing(t *testing.T) {
	s := createTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	cases := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tc := range cases {
		if err := s.verifyPragma(tc.name, tc.want); err != nil {
			t.Error(err)
		}
	}
}

func TestMigrations_SetUserVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion+1)); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	s.Close()

	if s, err := Open(path); err == nil {
		s.Close()
		t.Fatal("Open() accepted a database from a newer schema")
	}
}

// Constraint tests

func TestConstraint_ReturnUniquePerDepositPeriod(t *testing.T) {
	s := createTestStore(t)
	mustCreateAccount(t, s, "A", "")
	mustCreateDeposit(t, s, "d1", "A", "1st Stock Package", 300000)

	_, err := s.db.Exec(`
		INSERT INTO periodic_returns (id, deposit_id, account_id, period, amount, rate, status, processed_at)
		VALUES ('r1', 'd1', 'A', '2025-03-14', 45000, '0.15', 'pending', '2025-03-14T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO periodic_returns (id, deposit_id, account_id, period, amount, rate, status, processed_at)
		VALUES ('r2', 'd1', 'A', '2025-03-14', 45000, '0.15', 'pending', '2025-03-14T00:00:00Z')
	`)
	if err == nil {
		t.Error("expected UNIQUE(deposit_id, period) violation, got nil")
	}
}

func TestConstraint_ForeignKeys(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO deposits (id, account_id, tier, principal, status, created_at)
		VALUES ('d1', 'missing', 'tier', 100, 'completed', '2025-03-14T00:00:00Z')
	`)
	if err == nil {
		t.Error("expected foreign key violation for unknown account, got nil")
	}
}
