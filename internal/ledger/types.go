// Package ledger defines the records the payout engine reads and writes.
package ledger

import (
	"time"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/money"
)

// DepositStatus is the lifecycle state of a deposit. Only completed
// deposits earn periodic returns.
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositCompleted DepositStatus = "completed"
	DepositRejected  DepositStatus = "rejected"
)

// Valid reports whether s is a known deposit status.
func (s DepositStatus) Valid() bool {
	switch s {
	case DepositPending, DepositCompleted, DepositRejected:
		return true
	}
	return false
}

// ReturnStatus is the state of a periodic return record.
//
// A record is inserted as pending when the (deposit, period) slot is
// claimed and flips to paid in the same transaction that credits the owner.
type ReturnStatus string

const (
	ReturnPending ReturnStatus = "pending"
	ReturnPaid    ReturnStatus = "paid"
)

// Account is a participant. ReferredBy is empty for root accounts and
// TelegramChatID is zero when no notification address is registered.
type Account struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Balance          money.Amount `json:"balance"`
	TotalCommissions money.Amount `json:"total_commissions"`
	ReferredBy       string       `json:"referred_by,omitempty"`
	TelegramChatID   int64        `json:"telegram_chat_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// DisplayName returns Name, or the ID when the account has no name.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Deposit is an investment position in a package tier.
type Deposit struct {
	ID        string        `json:"id"`
	AccountID string        `json:"account_id"`
	Tier      string        `json:"tier"`
	Principal money.Amount  `json:"principal"`
	Status    DepositStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// PeriodicReturn is the payout ledger row. At most one exists per
// (DepositID, Period).
type PeriodicReturn struct {
	ID                     string               `json:"id"`
	DepositID              string               `json:"deposit_id"`
	AccountID              string               `json:"account_id"`
	Period                 calendar.Period      `json:"period"`
	Amount                 money.Amount         `json:"amount"`
	Rate                   money.Rate           `json:"rate"`
	Status                 ReturnStatus         `json:"status"`
	ProcessedAt            time.Time            `json:"processed_at"`
	CommissionsDistributed money.Amount         `json:"commissions_distributed"`
	Breakdown              map[int]money.Amount `json:"breakdown"`
}

// Commission is one level of a cascade. Append-only; at most one exists per
// (ReturnID, Level).
type Commission struct {
	ID              string          `json:"id"`
	BeneficiaryID   string          `json:"beneficiary_id"`
	SourceAccountID string          `json:"source_account_id"`
	ReturnID        string          `json:"return_id"`
	Period          calendar.Period `json:"period"`
	Level           int             `json:"level"`
	Amount          money.Amount    `json:"amount"`
	Rate            money.Rate      `json:"rate"`
	Description     string          `json:"description"`
	CreatedAt       time.Time       `json:"created_at"`
}
