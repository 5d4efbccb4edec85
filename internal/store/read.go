package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

const returnColumns = `id, deposit_id, account_id, period, amount, rate, status, processed_at, commissions_distributed, breakdown`

const commissionColumns = `id, beneficiary_id, source_account_id, return_id, period, level, amount, rate, description, created_at`

// ReadReturn retrieves a single periodic return by ID.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) ReadReturn(ctx context.Context, id string) (ledger.PeriodicReturn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM periodic_returns
		WHERE id = ?
	`, id)
	r, err := scanReturn(row)
	if err != nil {
		return ledger.PeriodicReturn{}, fmt.Errorf("read return %s: %w", id, err)
	}
	return r, nil
}

// ReturnsInRange returns every periodic return with from <= period <= to,
// ordered by period then ID. Used by reconciliation.
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ReturnsInRange(ctx context.Context, from, to calendar.Period) ([]ledger.PeriodicReturn, error) {
	return s.queryReturns(ctx, `
		SELECT `+returnColumns+`
		FROM periodic_returns
		WHERE period >= ? AND period <= ?
		ORDER BY period ASC, id COLLATE BINARY ASC
	`, string(from), string(to))
}

// ListReturns returns an account's periodic returns in [from, to], newest
// period first.
func (s *Store) ListReturns(ctx context.Context, accountID string, from, to calendar.Period) ([]ledger.PeriodicReturn, error) {
	return s.queryReturns(ctx, `
		SELECT `+returnColumns+`
		FROM periodic_returns
		WHERE account_id = ? AND period >= ? AND period <= ?
		ORDER BY period DESC, id COLLATE BINARY ASC
	`, accountID, string(from), string(to))
}

func (s *Store) queryReturns(ctx context.Context, query string, args ...any) ([]ledger.PeriodicReturn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query returns: %w", err)
	}
	defer rows.Close()

	returns := []ledger.PeriodicReturn{}
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		returns = append(returns, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate returns: %w", err)
	}
	return returns, nil
}

// CommissionsForReturn returns the cascade rows of one return ordered by level.
func (s *Store) CommissionsForReturn(ctx context.Context, returnID string) ([]ledger.Commission, error) {
	return s.queryCommissions(ctx, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE return_id = ?
		ORDER BY level ASC
	`, returnID)
}

// ListCommissions returns commissions earned by beneficiaryID in [from, to],
// newest first.
func (s *Store) ListCommissions(ctx context.Context, beneficiaryID string, from, to calendar.Period) ([]ledger.Commission, error) {
	return s.queryCommissions(ctx, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE beneficiary_id = ? AND period >= ? AND period <= ?
		ORDER BY period DESC, level ASC, id COLLATE BINARY ASC
	`, beneficiaryID, string(from), string(to))
}

func (s *Store) queryCommissions(ctx context.Context, query string, args ...any) ([]ledger.Commission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commissions: %w", err)
	}
	defer rows.Close()

	commissions := []ledger.Commission{}
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commissions: %w", err)
	}
	return commissions, nil
}

// TierTotal aggregates an account's returns for one package tier.
type TierTotal struct {
	Tier    string       `json:"tier"`
	Total   money.Amount `json:"total"`
	Count   int          `json:"count"`
	Average money.Amount `json:"average"`
}

// ReturnStats aggregates an account's payouts for the read side.
type ReturnStats struct {
	Total       money.Amount `json:"total"`
	Today       money.Amount `json:"today"`
	Month       money.Amount `json:"month"`
	ByTier      []TierTotal  `json:"by_tier"`
	Commissions money.Amount `json:"commissions"`
}

// ReturnStats sums an account's returns overall, on today, and within
// [monthFrom, monthTo], plus per-tier totals and commissions earned.
func (s *Store) ReturnStats(ctx context.Context, accountID string, today, monthFrom, monthTo calendar.Period) (ReturnStats, error) {
	var stats ReturnStats
	var total, todayTotal, monthTotal, commissions int64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(CASE WHEN period = ? THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN period >= ? AND period <= ? THEN amount ELSE 0 END), 0)
		FROM periodic_returns
		WHERE account_id = ? AND status = ?
	`, string(today), string(monthFrom), string(monthTo), accountID, string(ledger.ReturnPaid)).Scan(&total, &todayTotal, &monthTotal)
	if err != nil {
		return ReturnStats{}, fmt.Errorf("return stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.tier, SUM(r.amount), COUNT(*)
		FROM periodic_returns r
		JOIN deposits d ON d.id = r.deposit_id
		WHERE r.account_id = ? AND r.status = ?
		GROUP BY d.tier
		ORDER BY d.tier COLLATE BINARY ASC
	`, accountID, string(ledger.ReturnPaid))
	if err != nil {
		return ReturnStats{}, fmt.Errorf("return stats by tier: %w", err)
	}
	defer rows.Close()

	stats.ByTier = []TierTotal{}
	for rows.Next() {
		var tt TierTotal
		var sum int64
		if err := rows.Scan(&tt.Tier, &sum, &tt.Count); err != nil {
			return ReturnStats{}, fmt.Errorf("scan tier total: %w", err)
		}
		tt.Total = money.Amount(sum)
		if tt.Count > 0 {
			tt.Average = money.Amount(sum / int64(tt.Count))
		}
		stats.ByTier = append(stats.ByTier, tt)
	}
	if err := rows.Err(); err != nil {
		return ReturnStats{}, fmt.Errorf("iterate tier totals: %w", err)
	}
	rows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM commissions WHERE beneficiary_id = ?
	`, accountID).Scan(&commissions)
	if err != nil {
		return ReturnStats{}, fmt.Errorf("commission total: %w", err)
	}

	stats.Total = money.Amount(total)
	stats.Today = money.Amount(todayTotal)
	stats.Month = money.Amount(monthTotal)
	stats.Commissions = money.Amount(commissions)
	return stats, nil
}

// LevelTotal aggregates a beneficiary's commissions at one level.
type LevelTotal struct {
	Level int          `json:"level"`
	Total money.Amount `json:"total"`
	Count int          `json:"count"`
}

// CommissionsByLevel groups a beneficiary's commissions by level ascending.
func (s *Store) CommissionsByLevel(ctx context.Context, beneficiaryID string) ([]LevelTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, SUM(amount), COUNT(*)
		FROM commissions
		WHERE beneficiary_id = ?
		GROUP BY level
		ORDER BY level ASC
	`, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("commissions by level: %w", err)
	}
	defer rows.Close()

	totals := []LevelTotal{}
	for rows.Next() {
		var lt LevelTotal
		var sum int64
		if err := rows.Scan(&lt.Level, &sum, &lt.Count); err != nil {
			return nil, fmt.Errorf("scan level total: %w", err)
		}
		lt.Total = money.Amount(sum)
		totals = append(totals, lt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate level totals: %w", err)
	}
	return totals, nil
}

// LedgerStats is a platform-wide snapshot.
type LedgerStats struct {
	Accounts          int          `json:"accounts"`
	CompletedDeposits int          `json:"completed_deposits"`
	Returns           int          `json:"returns"`
	Commissions       int          `json:"commissions"`
	TotalBalance      money.Amount `json:"total_balance"`
}

// Stats counts accounts, completed deposits, returns and commissions.
func (s *Store) Stats(ctx context.Context) (LedgerStats, error) {
	var st LedgerStats
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM deposits WHERE status = ?),
			(SELECT COUNT(*) FROM periodic_returns),
			(SELECT COUNT(*) FROM commissions),
			(SELECT COALESCE(SUM(balance), 0) FROM accounts)
	`, string(ledger.DepositCompleted)).Scan(&st.Accounts, &st.CompletedDeposits, &st.Returns, &st.Commissions, &balance)
	if err != nil {
		return LedgerStats{}, fmt.Errorf("ledger stats: %w", err)
	}
	st.TotalBalance = money.Amount(balance)
	return st, nil
}

func scanReturn(r rowScanner) (ledger.PeriodicReturn, error) {
	var ret ledger.PeriodicReturn
	var period, rate, status, processed, breakdown string
	var amount, distributed int64

	if err := r.Scan(
		&ret.ID, &ret.DepositID, &ret.AccountID, &period, &amount, &rate,
		&status, &processed, &distributed, &breakdown,
	); err != nil {
		if err == sql.ErrNoRows {
			return ledger.PeriodicReturn{}, err
		}
		return ledger.PeriodicReturn{}, fmt.Errorf("scan return: %w", err)
	}

	parsedRate, err := money.ParseRate(rate)
	if err != nil {
		return ledger.PeriodicReturn{}, fmt.Errorf("scan return %s: %w", ret.ID, err)
	}
	processedAt, err := parseTime(processed)
	if err != nil {
		return ledger.PeriodicReturn{}, err
	}
	levels, err := unmarshalBreakdown(breakdown)
	if err != nil {
		return ledger.PeriodicReturn{}, err
	}

	ret.Period = calendar.Period(period)
	ret.Amount = money.Amount(amount)
	ret.Rate = parsedRate
	ret.Status = ledger.ReturnStatus(status)
	ret.ProcessedAt = processedAt
	ret.CommissionsDistributed = money.Amount(distributed)
	ret.Breakdown = levels
	return ret, nil
}

func scanCommission(r rowScanner) (ledger.Commission, error) {
	var c ledger.Commission
	var period, rate, created string
	var amount int64

	if err := r.Scan(
		&c.ID, &c.BeneficiaryID, &c.SourceAccountID, &c.ReturnID, &period,
		&c.Level, &amount, &rate, &c.Description, &created,
	); err != nil {
		return ledger.Commission{}, fmt.Errorf("scan commission: %w", err)
	}

	parsedRate, err := money.ParseRate(rate)
	if err != nil {
		return ledger.Commission{}, fmt.Errorf("scan commission %s: %w", c.ID, err)
	}
	createdAt, err := parseTime(created)
	if err != nil {
		return ledger.Commission{}, err
	}

	c.Period = calendar.Period(period)
	c.Amount = money.Amount(amount)
	c.Rate = parsedRate
	c.CreatedAt = createdAt
	return c, nil
}
