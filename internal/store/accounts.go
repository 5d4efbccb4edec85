package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

// CreateAccount inserts an account.
// Uses ON CONFLICT(id) DO NOTHING so re-seeding is idempotent; the returned
// bool reports whether a row was inserted.
//
// Balance and TotalCommissions are written as given. They are opening
// balances; afterwards only ledger-backed credits change them.
func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, name, balance, total_commissions, referred_by, telegram_chat_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID,
		a.Name,
		int64(a.Balance),
		int64(a.TotalCommissions),
		nullString(a.ReferredBy),
		nullInt64(a.TelegramChatID),
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("create account %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create account %s: rows affected: %w", a.ID, err)
	}
	return n > 0, nil
}

// SetReferrer links accountID to referrerID. An empty referrerID makes the
// account a root. The store does not reject cycles; the referral walker
// guards against them.
func (s *Store) SetReferrer(ctx context.Context, accountID, referrerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET referred_by = ? WHERE id = ?
	`, nullString(referrerID), accountID)
	if err != nil {
		return fmt.Errorf("set referrer of %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set referrer of %s: %w", accountID, sql.ErrNoRows)
	}
	return nil
}

// SetTelegramChatID registers (or clears, with 0) the notification address.
func (s *Store) SetTelegramChatID(ctx context.Context, accountID string, chatID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET telegram_chat_id = ? WHERE id = ?
	`, nullInt64(chatID), accountID)
	if err != nil {
		return fmt.Errorf("set chat id of %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set chat id of %s: %w", accountID, sql.ErrNoRows)
	}
	return nil
}

// Account retrieves an account by ID.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) Account(ctx context.Context, id string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, total_commissions, referred_by, telegram_chat_id, created_at
		FROM accounts
		WHERE id = ?
	`, id)

	a, err := scanAccount(row)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("read account %s: %w", id, err)
	}
	return a, nil
}

// Referrer returns the ID of the account that referred id, or "" for a
// root account. Returns an error wrapping sql.ErrNoRows if id does not exist.
func (s *Store) Referrer(ctx context.Context, id string) (string, error) {
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT referred_by FROM accounts WHERE id = ?
	`, id).Scan(&ref)
	if err != nil {
		return "", fmt.Errorf("read referrer of %s: %w", id, err)
	}
	return ref.String, nil
}

// Accounts returns all accounts ordered by ID.
func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, balance, total_commissions, referred_by, telegram_chat_id, created_at
		FROM accounts
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// CreateDeposit inserts a deposit.
// Uses ON CONFLICT(id) DO NOTHING; the returned bool reports insertion.
func (s *Store) CreateDeposit(ctx context.Context, d ledger.Deposit) (bool, error) {
	if !d.Status.Valid() {
		return false, fmt.Errorf("create deposit %s: invalid status %q", d.ID, d.Status)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deposits
		(id, account_id, tier, principal, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		d.ID,
		d.AccountID,
		d.Tier,
		int64(d.Principal),
		string(d.Status),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("create deposit %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create deposit %s: rows affected: %w", d.ID, err)
	}
	return n > 0, nil
}

// SetDepositStatus transitions a deposit. Lifecycle rules live with the
// deposit workflow; the ledger only records the outcome.
func (s *Store) SetDepositStatus(ctx context.Context, id string, status ledger.DepositStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set deposit %s status: invalid status %q", id, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE deposits SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("set deposit %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set deposit %s status: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Deposit retrieves a deposit by ID.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) Deposit(ctx context.Context, id string) (ledger.Deposit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, tier, principal, status, created_at
		FROM deposits
		WHERE id = ?
	`, id)
	d, err := scanDeposit(row)
	if err != nil {
		return ledger.Deposit{}, fmt.Errorf("read deposit %s: %w", id, err)
	}
	return d, nil
}

// CompletedDeposits returns every deposit eligible for a periodic return,
// ordered by creation time then ID.
//
// Returns an empty slice (not nil) if none exist.
func (s *Store) CompletedDeposits(ctx context.Context) ([]ledger.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, tier, principal, status, created_at
		FROM deposits
		WHERE status = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, string(ledger.DepositCompleted))
	if err != nil {
		return nil, fmt.Errorf("query completed deposits: %w", err)
	}
	defer rows.Close()

	deposits := []ledger.Deposit{}
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposits: %w", err)
	}
	return deposits, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (ledger.Account, error) {
	var a ledger.Account
	var balance, total int64
	var ref sql.NullString
	var chat sql.NullInt64
	var created string

	if err := r.Scan(&a.ID, &a.Name, &balance, &total, &ref, &chat, &created); err != nil {
		return ledger.Account{}, fmt.Errorf("scan account: %w", err)
	}
	createdAt, err := parseTime(created)
	if err != nil {
		return ledger.Account{}, err
	}
	a.Balance = money.Amount(balance)
	a.TotalCommissions = money.Amount(total)
	a.ReferredBy = ref.String
	a.TelegramChatID = chat.Int64
	a.CreatedAt = createdAt
	return a, nil
}

func scanDeposit(r rowScanner) (ledger.Deposit, error) {
	var d ledger.Deposit
	var principal int64
	var status, created string

	if err := r.Scan(&d.ID, &d.AccountID, &d.Tier, &principal, &status, &created); err != nil {
		return ledger.Deposit{}, fmt.Errorf("scan deposit: %w", err)
	}
	createdAt, err := parseTime(created)
	if err != nil {
		return ledger.Deposit{}, err
	}
	d.Principal = money.Amount(principal)
	d.Status = ledger.DepositStatus(status)
	d.CreatedAt = createdAt
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
