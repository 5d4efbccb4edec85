package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

func TestCreateAccount_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := ledger.Account{ID: "A", Name: "Abebe", TelegramChatID: 42, CreatedAt: testTime}
	inserted, err := s.CreateAccount(ctx, a)
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	if !inserted {
		t.Error("first CreateAccount() should insert")
	}
	inserted, err = s.CreateAccount(ctx, a)
	if err != nil {
		t.Fatalf("second CreateAccount() failed: %v", err)
	}
	if inserted {
		t.Error("second CreateAccount() should not insert")
	}

	got, err := s.Account(ctx, "A")
	if err != nil {
		t.Fatalf("Account() failed: %v", err)
	}
	if got.Name != "Abebe" || got.TelegramChatID != 42 || !got.CreatedAt.Equal(testTime) {
		t.Errorf("Account() = %+v", got)
	}
}

func TestAccount_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Account(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestReferrer(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "P", "")
	mustCreateAccount(t, s, "A", "P")

	ref, err := s.Referrer(ctx, "A")
	if err != nil {
		t.Fatalf("Referrer() failed: %v", err)
	}
	if ref != "P" {
		t.Errorf("Referrer(A) = %q, want P", ref)
	}

	ref, err = s.Referrer(ctx, "P")
	if err != nil {
		t.Fatalf("Referrer() failed: %v", err)
	}
	if ref != "" {
		t.Errorf("Referrer(root) = %q, want empty", ref)
	}

	if _, err := s.Referrer(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Referrer(missing) err = %v, want sql.ErrNoRows", err)
	}
}

func TestSetReferrer_AllowsCycleWrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "A", "")
	mustCreateAccount(t, s, "B", "A")

	if err := s.SetReferrer(ctx, "A", "B"); err != nil {
		t.Fatalf("SetReferrer() failed: %v", err)
	}
	ref, _ := s.Referrer(ctx, "A")
	if ref != "B" {
		t.Errorf("Referrer(A) = %q, want B", ref)
	}
}

func TestSetTelegramChatID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "A", "")

	if err := s.SetTelegramChatID(ctx, "A", 99); err != nil {
		t.Fatalf("SetTelegramChatID() failed: %v", err)
	}
	a, _ := s.Account(ctx, "A")
	if a.TelegramChatID != 99 {
		t.Errorf("chat id = %d, want 99", a.TelegramChatID)
	}
	if err := s.SetTelegramChatID(ctx, "missing", 1); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestCompletedDeposits_FiltersStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "A", "")
	mustCreateDeposit(t, s, "d1", "A", "1st Stock Package", 300000)
	mustCreateDeposit(t, s, "d2", "A", "2nd Stock Package", 600000)
	if _, err := s.CreateDeposit(ctx, ledger.Deposit{
		ID: "d3", AccountID: "A", Tier: "1st Stock Package", Principal: 300000,
		Status: ledger.DepositPending, CreatedAt: testTime,
	}); err != nil {
		t.Fatalf("CreateDeposit() failed: %v", err)
	}
	if err := s.SetDepositStatus(ctx, "d2", ledger.DepositRejected); err != nil {
		t.Fatalf("SetDepositStatus() failed: %v", err)
	}

	deposits, err := s.CompletedDeposits(ctx)
	if err != nil {
		t.Fatalf("CompletedDeposits() failed: %v", err)
	}
	if len(deposits) != 1 || deposits[0].ID != "d1" {
		t.Errorf("CompletedDeposits() = %+v, want only d1", deposits)
	}
}

func TestCreateDeposit_InvalidStatus(t *testing.T) {
	s := createTestStore(t)
	mustCreateAccount(t, s, "A", "")
	_, err := s.CreateDeposit(context.Background(), ledger.Deposit{
		ID: "d1", AccountID: "A", Tier: "x", Status: "approved", CreatedAt: testTime,
	})
	if err == nil {
		t.Error("expected error for invalid status, got nil")
	}
}

func TestReturnsInRange_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "A", "")
	mustCreateDeposit(t, s, "d1", "A", "1st Stock Package", 300000)

	for _, day := range []string{"2025-03-03", "2025-03-01", "2025-04-01", "2025-03-02"} {
		r := createTestReturn("d1", "A", calendar.MustParsePeriod(day), 45000)
		if _, _, err := s.ReserveReturn(ctx, r); err != nil {
			t.Fatalf("ReserveReturn(%s) failed: %v", day, err)
		}
	}

	got, err := s.ReturnsInRange(ctx, "2025-03-01", "2025-03-31")
	if err != nil {
		t.Fatalf("ReturnsInRange() failed: %v", err)
	}
	want := []calendar.Period{"2025-03-01", "2025-03-02", "2025-03-03"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, p := range want {
		if got[i].Period != p {
			t.Errorf("got[%d].Period = %s, want %s", i, got[i].Period, p)
		}
	}
}

func TestReturnsInRange_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	got, err := s.ReturnsInRange(context.Background(), "2025-01-01", "2025-01-31")
	if err != nil {
		t.Fatalf("ReturnsInRange() failed: %v", err)
	}
	if got == nil {
		t.Error("ReturnsInRange() returned nil, want empty slice")
	}
}

func TestListCommissions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "P", "")
	mustCreateAccount(t, s, "A", "P")
	mustCreateDeposit(t, s, "d1", "A", "6th Stock Package", 9600000)

	for _, day := range []string{"2025-03-01", "2025-03-02"} {
		r := createTestReturn("d1", "A", calendar.MustParsePeriod(day), 360000)
		if _, _, err := s.ReserveReturn(ctx, r); err != nil {
			t.Fatalf("ReserveReturn() failed: %v", err)
		}
		if _, err := s.WriteCommission(ctx, createTestCommission(r, "P", 1, 28800)); err != nil {
			t.Fatalf("WriteCommission() failed: %v", err)
		}
	}

	got, err := s.ListCommissions(ctx, "P", "2025-03-02", "2025-03-31")
	if err != nil {
		t.Fatalf("ListCommissions() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	c := got[0]
	if c.Period != "2025-03-02" || c.Level != 1 || c.Amount != 28800 || c.SourceAccountID != "A" {
		t.Errorf("commission = %+v", c)
	}
	if c.Rate.String() != "0.08" {
		t.Errorf("rate = %s, want 0.08", c.Rate)
	}
}

func TestReturnStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "P", "")
	mustCreateAccount(t, s, "A", "P")
	mustCreateDeposit(t, s, "d1", "A", "1st Stock Package", 300000)
	mustCreateDeposit(t, s, "d2", "A", "2nd Stock Package", 600000)

	pay := func(depositID, day string, amount int64) {
		t.Helper()
		r := createTestReturn(depositID, "A", calendar.MustParsePeriod(day), money.Amount(amount))
		if _, _, err := s.ReserveReturn(ctx, r); err != nil {
			t.Fatalf("ReserveReturn() failed: %v", err)
		}
		if _, err := s.MarkReturnPaid(ctx, r.ID, testTime); err != nil {
			t.Fatalf("MarkReturnPaid() failed: %v", err)
		}
	}
	pay("d1", "2025-02-28", 45000)
	pay("d1", "2025-03-13", 45000)
	pay("d1", "2025-03-14", 45000)
	pay("d2", "2025-03-14", 90000)

	// A pending record is not counted.
	if _, _, err := s.ReserveReturn(ctx, createTestReturn("d2", "A", "2025-03-13", 90000)); err != nil {
		t.Fatalf("ReserveReturn() failed: %v", err)
	}

	stats, err := s.ReturnStats(ctx, "A", "2025-03-14", "2025-03-01", "2025-03-31")
	if err != nil {
		t.Fatalf("ReturnStats() failed: %v", err)
	}
	if stats.Total != 225000 {
		t.Errorf("total = %d, want 225000", stats.Total)
	}
	if stats.Today != 135000 {
		t.Errorf("today = %d, want 135000", stats.Today)
	}
	if stats.Month != 180000 {
		t.Errorf("month = %d, want 180000", stats.Month)
	}
	if len(stats.ByTier) != 2 {
		t.Fatalf("by tier = %+v, want 2 tiers", stats.ByTier)
	}
	first := stats.ByTier[0]
	if first.Tier != "1st Stock Package" || first.Count != 3 || first.Total != 135000 || first.Average != 45000 {
		t.Errorf("tier[0] = %+v", first)
	}
}

func TestCommissionsByLevel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "Q", "")
	mustCreateAccount(t, s, "P", "Q")
	mustCreateAccount(t, s, "A", "P")
	mustCreateAccount(t, s, "B", "Q")
	mustCreateDeposit(t, s, "dA", "A", "6th Stock Package", 9600000)
	mustCreateDeposit(t, s, "dB", "B", "6th Stock Package", 9600000)

	rA := createTestReturn("dA", "A", testPeriod, 360000)
	rB := createTestReturn("dB", "B", testPeriod, 360000)
	for _, r := range []ledger.PeriodicReturn{rA, rB} {
		if _, _, err := s.ReserveReturn(ctx, r); err != nil {
			t.Fatalf("ReserveReturn() failed: %v", err)
		}
	}
	// Q is level 2 for A's return and level 1 for B's.
	if _, err := s.WriteCommission(ctx, createTestCommission(rA, "Q", 2, 14400)); err != nil {
		t.Fatalf("WriteCommission() failed: %v", err)
	}
	if _, err := s.WriteCommission(ctx, createTestCommission(rB, "Q", 1, 28800)); err != nil {
		t.Fatalf("WriteCommission() failed: %v", err)
	}

	totals, err := s.CommissionsByLevel(ctx, "Q")
	if err != nil {
		t.Fatalf("CommissionsByLevel() failed: %v", err)
	}
	if len(totals) != 2 || totals[0].Level != 1 || totals[0].Total != 28800 || totals[1].Level != 2 || totals[1].Total != 14400 {
		t.Errorf("CommissionsByLevel() = %+v", totals)
	}
}

func TestStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, s, "P", "")
	mustCreateAccount(t, s, "A", "P")
	mustCreateDeposit(t, s, "d1", "A", "6th Stock Package", 9600000)
	r := createTestReturn("d1", "A", testPeriod, 360000)
	if _, _, err := s.ReserveReturn(ctx, r); err != nil {
		t.Fatalf("ReserveReturn() failed: %v", err)
	}
	if _, err := s.MarkReturnPaid(ctx, r.ID, testTime); err != nil {
		t.Fatalf("MarkReturnPaid() failed: %v", err)
	}
	if _, err := s.WriteCommission(ctx, createTestCommission(r, "P", 1, 28800)); err != nil {
		t.Fatalf("WriteCommission() failed: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if st.Accounts != 2 || st.CompletedDeposits != 1 || st.Returns != 1 || st.Commissions != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.TotalBalance != 388800 {
		t.Errorf("total balance = %d, want 388800", st.TotalBalance)
	}
}
