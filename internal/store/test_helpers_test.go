package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

var testTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustCreateAccount inserts an account referred by referrer ("" for root).
func mustCreateAccount(t *testing.T, s *Store, id, referrer string) {
	t.Helper()
	_, err := s.CreateAccount(context.Background(), ledger.Account{
		ID:         id,
		Name:       "name-" + id,
		ReferredBy: referrer,
		CreatedAt:  testTime,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s) failed: %v", id, err)
	}
}

// mustCreateDeposit inserts a completed deposit.
func mustCreateDeposit(t *testing.T, s *Store, id, accountID, tier string, principal money.Amount) {
	t.Helper()
	_, err := s.CreateDeposit(context.Background(), ledger.Deposit{
		ID:        id,
		AccountID: accountID,
		Tier:      tier,
		Principal: principal,
		Status:    ledger.DepositCompleted,
		CreatedAt: testTime,
	})
	if err != nil {
		t.Fatalf("CreateDeposit(%s) failed: %v", id, err)
	}
}

// createTestReturn builds a pending return for (depositID, period).
func createTestReturn(depositID, accountID string, period calendar.Period, amount money.Amount) ledger.PeriodicReturn {
	return ledger.PeriodicReturn{
		ID:          ledger.ReturnID(depositID, period),
		DepositID:   depositID,
		AccountID:   accountID,
		Period:      period,
		Amount:      amount,
		Rate:        money.MustRate("0.15"),
		ProcessedAt: testTime,
	}
}

// createTestCommission builds the level-th commission of r paid to beneficiary.
func createTestCommission(r ledger.PeriodicReturn, beneficiary string, level int, amount money.Amount) ledger.Commission {
	return ledger.Commission{
		ID:              ledger.CommissionID(r.ID, level),
		BeneficiaryID:   beneficiary,
		SourceAccountID: r.AccountID,
		ReturnID:        r.ID,
		Period:          r.Period,
		Level:           level,
		Amount:          amount,
		Rate:            money.MustRate("0.08"),
		Description:     "test commission",
		CreatedAt:       testTime,
	}
}
