// Package fixture loads ledger fixtures: accounts with their referral links
// and deposits, written as YAML. The seed command and the payout tests use
// them to build a ledger.
package fixture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cascade/internal/ledger"
	"github.com/roach88/cascade/internal/money"
)

// Fixture is a ledger snapshot to seed.
type Fixture struct {
	// Name identifies the fixture in logs.
	Name string `yaml:"name,omitempty"`

	Accounts []Account `yaml:"accounts"`
	Deposits []Deposit `yaml:"deposits,omitempty"`
}

// Account describes one account. Amounts are decimal strings in currency
// units ("24000", "360.25").
type Account struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name,omitempty"`
	ReferredBy     string `yaml:"referred_by,omitempty"`
	TelegramChatID int64  `yaml:"telegram_chat_id,omitempty"`
	Balance        string `yaml:"balance,omitempty"`
}

// Deposit describes one deposit. Status defaults to completed. A deposit
// without an id is given a fresh one when parsed, so applying the same file
// twice inserts it twice.
type Deposit struct {
	ID        string `yaml:"id"`
	Account   string `yaml:"account"`
	Tier      string `yaml:"tier"`
	Principal string `yaml:"principal"`
	Status    string `yaml:"status,omitempty"`
}

// Target is the ledger a fixture is applied to. *store.Store satisfies it.
type Target interface {
	CreateAccount(ctx context.Context, a ledger.Account) (bool, error)
	SetReferrer(ctx context.Context, accountID, referrerID string) error
	CreateDeposit(ctx context.Context, d ledger.Deposit) (bool, error)
}

// Result counts the rows a fixture inserted. Rows that already existed are
// left untouched and not counted.
type Result struct {
	Accounts int `json:"accounts"`
	Links    int `json:"links"`
	Deposits int `json:"deposits"`
}

// Load reads and parses a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a fixture, rejecting unknown fields.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i := range f.Deposits {
		if f.Deposits[i].ID == "" {
			f.Deposits[i].ID = ledger.NewID()
		}
	}
	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// Apply inserts the fixture into t.
//
// Accounts are created first without links, then linked, so referrers may
// appear in any order (and cycles can be seeded for testing). Creation times
// are now plus the row's position, keeping fixture order stable.
func (f *Fixture) Apply(ctx context.Context, t Target, now time.Time) (Result, error) {
	var res Result

	for i, a := range f.Accounts {
		balance, err := parseAmount(a.Balance)
		if err != nil {
			return res, fmt.Errorf("account %s: balance: %w", a.ID, err)
		}
		inserted, err := t.CreateAccount(ctx, ledger.Account{
			ID:             a.ID,
			Name:           a.Name,
			Balance:        balance,
			TelegramChatID: a.TelegramChatID,
			CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			return res, err
		}
		if inserted {
			res.Accounts++
		}
	}

	for _, a := range f.Accounts {
		if a.ReferredBy == "" {
			continue
		}
		if err := t.SetReferrer(ctx, a.ID, a.ReferredBy); err != nil {
			return res, err
		}
		res.Links++
	}

	for i, d := range f.Deposits {
		principal, _ := parseAmount(d.Principal)
		status := ledger.DepositCompleted
		if d.Status != "" {
			status = ledger.DepositStatus(d.Status)
		}
		inserted, err := t.CreateDeposit(ctx, ledger.Deposit{
			ID:        d.ID,
			AccountID: d.Account,
			Tier:      d.Tier,
			Principal: principal,
			Status:    status,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			return res, err
		}
		if inserted {
			res.Deposits++
		}
	}
	return res, nil
}

func validate(f *Fixture) error {
	if len(f.Accounts) == 0 {
		return errors.New("accounts list is required and must be non-empty")
	}

	seen := map[string]bool{}
	for i, a := range f.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if _, err := parseAmount(a.Balance); err != nil {
			return fmt.Errorf("accounts[%d]: balance: %w", i, err)
		}
	}
	for i, a := range f.Accounts {
		if a.ReferredBy != "" && !seen[a.ReferredBy] {
			return fmt.Errorf("accounts[%d]: unknown referrer %q", i, a.ReferredBy)
		}
	}

	deposits := map[string]bool{}
	for i, d := range f.Deposits {
		if deposits[d.ID] {
			return fmt.Errorf("deposits[%d]: duplicate id %q", i, d.ID)
		}
		deposits[d.ID] = true
		if !seen[d.Account] {
			return fmt.Errorf("deposits[%d]: unknown account %q", i, d.Account)
		}
		if d.Tier == "" {
			return fmt.Errorf("deposits[%d]: tier is required", i)
		}
		if d.Principal == "" {
			return fmt.Errorf("deposits[%d]: principal is required", i)
		}
		if _, err := parseAmount(d.Principal); err != nil {
			return fmt.Errorf("deposits[%d]: principal: %w", i, err)
		}
		if d.Status != "" && !ledger.DepositStatus(d.Status).Valid() {
			return fmt.Errorf("deposits[%d]: invalid status %q", i, d.Status)
		}
	}
	return nil
}

func parseAmount(s string) (money.Amount, error) {
	if s == "" {
		return 0, nil
	}
	return money.ParseAmount(s)
}
