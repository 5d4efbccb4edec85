// Package notify delivers payout and commission events to account holders.
//
// Delivery is best effort: the Dispatcher queues events without blocking the
// caller and a failed send is logged, never retried or surfaced.
package notify

import (
	"fmt"
	"strings"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/money"
)

// Kind identifies the event type.
type Kind string

const (
	KindReturnCredited   Kind = "return_credited"
	KindCommissionEarned Kind = "commission_earned"
)

// Event is the payload of one notification.
//
// For KindReturnCredited, Balance is the owner's balance after the credit.
// For KindCommissionEarned, Level and SourceName identify where the
// commission came from.
type Event struct {
	Kind       Kind
	AccountID  string
	Period     calendar.Period
	Tier       string
	Amount     money.Amount
	Rate       money.Rate
	Level      int
	SourceName string
	Balance    money.Amount
	Currency   string
}

// Message renders the event as the text sent to the account holder.
func (e Event) Message() string {
	var b strings.Builder
	switch e.Kind {
	case KindReturnCredited:
		b.WriteString("💰 Daily Return Credited!\n\n")
		fmt.Fprintf(&b, "Package: %s\n", e.Tier)
		fmt.Fprintf(&b, "Daily Return (%s): %s\n", e.Rate.Percent(), e.money(e.Amount))
		fmt.Fprintf(&b, "Date: %s\n", e.Period)
		b.WriteString("Your balance has been updated.\n\n")
		fmt.Fprintf(&b, "New Balance: %s", e.money(e.Balance))
	case KindCommissionEarned:
		b.WriteString("💰 Daily Commission Earned!\n\n")
		fmt.Fprintf(&b, "Amount: %s\n", e.money(e.Amount))
		fmt.Fprintf(&b, "Level: %d (%s)\n", e.Level, e.Rate.Percent())
		fmt.Fprintf(&b, "From: %s's daily return\n", e.SourceName)
		fmt.Fprintf(&b, "Source: %s\n\n", e.Tier)
		b.WriteString("Your balance has been updated!")
	default:
		fmt.Fprintf(&b, "%s: %s", e.Kind, e.money(e.Amount))
	}
	return b.String()
}

func (e Event) money(a money.Amount) string {
	if e.Currency == "" {
		return money.Format(a)
	}
	return money.Format(a) + " " + e.Currency
}
