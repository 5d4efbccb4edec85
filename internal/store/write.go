package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

// ReserveReturn atomically claims the (deposit, period) slot by inserting r
// in pending state.
// Uses ON CONFLICT DO NOTHING against UNIQUE(deposit_id, period): when the
// slot is already taken the existing row is returned with inserted=false.
// The conflict outcome is the canonical "already processed" signal; no prior
// read decides it.
//
// Note: The deposit and owner referenced by r must exist (foreign key constraints).
func (s *Store) ReserveReturn(ctx context.Context, r ledger.PeriodicReturn) (ledger.PeriodicReturn, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.PeriodicReturn{}, false, fmt.Errorf("reserve return: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO periodic_returns
		(id, deposit_id, account_id, period, amount, rate, status, processed_at, commissions_distributed, breakdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '{}')
		ON CONFLICT DO NOTHING
	`,
		r.ID,
		r.DepositID,
		r.AccountID,
		string(r.Period),
		int64(r.Amount),
		r.Rate.String(),
		string(ledger.ReturnPending),
		formatTime(r.ProcessedAt),
	)
	if err != nil {
		return ledger.PeriodicReturn{}, false, fmt.Errorf("reserve return: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ledger.PeriodicReturn{}, false, fmt.Errorf("reserve return: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Conflict - slot already claimed, fetch the existing row
		existing, err := scanReturn(tx.QueryRowContext(ctx, `
			SELECT `+returnColumns+`
			FROM periodic_returns
			WHERE deposit_id = ? AND period = ?
		`, r.DepositID, string(r.Period)))
		if err != nil {
			return ledger.PeriodicReturn{}, false, fmt.Errorf("reserve return: select existing: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return ledger.PeriodicReturn{}, false, fmt.Errorf("reserve return: commit (existing): %w", err)
		}
		return existing, false, nil
	}

	if err := tx.Commit(); err != nil {
		return ledger.PeriodicReturn{}, false, fmt.Errorf("reserve return: commit: %w", err)
	}

	r.Status = ledger.ReturnPending
	r.CommissionsDistributed = 0
	r.Breakdown = map[int]money.Amount{}
	return r, true, nil
}

// MarkReturnPaid flips a pending return to paid and credits its owner by the
// return amount, in one transaction.
// Returns credited=false without touching the balance when the return is
// already paid, so a resumed saga never pays the owner twice.
func (s *Store) MarkReturnPaid(ctx context.Context, returnID string, processedAt time.Time) (credited bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mark return paid: begin tx: %w", err)
	}
	defer tx.Rollback()

	var accountID, status string
	var amount int64
	err = tx.QueryRowContext(ctx, `
		SELECT account_id, amount, status FROM periodic_returns WHERE id = ?
	`, returnID).Scan(&accountID, &amount, &status)
	if err != nil {
		return false, fmt.Errorf("mark return paid %s: %w", returnID, err)
	}

	if ledger.ReturnStatus(status) == ledger.ReturnPaid {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("mark return paid: commit (already paid): %w", err)
		}
		return false, nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE periodic_returns
		SET status = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`, string(ledger.ReturnPaid), formatTime(processedAt), returnID, string(ledger.ReturnPending))
	if err != nil {
		return false, fmt.Errorf("mark return paid: update return: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		return false, fmt.Errorf("mark return paid %s: status changed concurrently", returnID)
	}

	if err := credit(ctx, tx, accountID, money.Amount(amount), 0); err != nil {
		return false, fmt.Errorf("mark return paid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mark return paid: commit: %w", err)
	}
	return true, nil
}

// WriteCommission records one cascade level.
//
// In one transaction it inserts the commission, credits the beneficiary's
// balance and cumulative commission total, and adds the amount to the
// source return's commissions_distributed and breakdown.
// Uses ON CONFLICT DO NOTHING against UNIQUE(return_id, level): a level that
// was already written returns written=false and changes nothing.
//
// Note: The return and both accounts must exist (foreign key constraints).
func (s *Store) WriteCommission(ctx context.Context, c ledger.Commission) (written bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write commission: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO commissions
		(id, beneficiary_id, source_account_id, return_id, period, level, amount, rate, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		c.ID,
		c.BeneficiaryID,
		c.SourceAccountID,
		c.ReturnID,
		string(c.Period),
		c.Level,
		int64(c.Amount),
		c.Rate.String(),
		c.Description,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("write commission: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write commission: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("write commission: commit (existing): %w", err)
		}
		return false, nil
	}

	if err := credit(ctx, tx, c.BeneficiaryID, c.Amount, c.Amount); err != nil {
		return false, fmt.Errorf("write commission: %w", err)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE periodic_returns
		SET commissions_distributed = commissions_distributed + ?,
		    breakdown = json_set(breakdown, ?, ?)
		WHERE id = ?
	`, int64(c.Amount), breakdownPath(c.Level), int64(c.Amount), c.ReturnID)
	if err != nil {
		return false, fmt.Errorf("write commission: update return: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		return false, fmt.Errorf("write commission: return %s: %w", c.ReturnID, sql.ErrNoRows)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write commission: commit: %w", err)
	}
	return true, nil
}

// credit atomically increments an account's balance, and its cumulative
// commission total by commission. Fails if the account does not exist.
func credit(ctx context.Context, tx *sql.Tx, accountID string, amount, commission money.Amount) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + ?,
		    total_commissions = total_commissions + ?
		WHERE id = ?
	`, int64(amount), int64(commission), accountID)
	if err != nil {
		return fmt.Errorf("credit %s: %w", accountID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit %s: rows affected: %w", accountID, err)
	}
	if n != 1 {
		return fmt.Errorf("credit %s: %w", accountID, sql.ErrNoRows)
	}
	return nil
}

// ResyncReturnTotals recomputes a return's commissions_distributed and
// breakdown from its commission rows. Balances are not touched; the
// commission rows are the source of truth for what was credited.
func (s *Store) ResyncReturnTotals(ctx context.Context, returnID string) (ledger.PeriodicReturn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.PeriodicReturn{}, fmt.Errorf("resync return: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT level, amount FROM commissions WHERE return_id = ? ORDER BY level ASC
	`, returnID)
	if err != nil {
		return ledger.PeriodicReturn{}, fmt.Errorf("resync return %s: %w", returnID, err)
	}
	breakdown := map[int]money.Amount{}
	var total money.Amount
	for rows.Next() {
		var level int
		var amount int64
		if err := rows.Scan(&level, &amount); err != nil {
			rows.Close()
			return ledger.PeriodicReturn{}, fmt.Errorf("resync return %s: scan: %w", returnID, err)
		}
		breakdown[level] = money.Amount(amount)
		total += money.Amount(amount)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ledger.PeriodicReturn{}, fmt.Errorf("resync return %s: %w", returnID, err)
	}
	rows.Close()

	encoded, err := marshalBreakdown(breakdown)
	if err != nil {
		return ledger.PeriodicReturn{}, err
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE periodic_returns
		SET commissions_distributed = ?, breakdown = ?
		WHERE id = ?
	`, int64(total), encoded, returnID)
	if err != nil {
		return ledger.PeriodicReturn{}, fmt.Errorf("resync return %s: update: %w", returnID, err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return ledger.PeriodicReturn{}, fmt.Errorf("resync return %s: %w", returnID, sql.ErrNoRows)
	}

	r, err := scanReturn(tx.QueryRowContext(ctx, `
		SELECT `+returnColumns+` FROM periodic_returns WHERE id = ?
	`, returnID))
	if err != nil {
		return ledger.PeriodicReturn{}, fmt.Errorf("resync return %s: %w", returnID, err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.PeriodicReturn{}, fmt.Errorf("resync return: commit: %w", err)
	}
	return r, nil
}
