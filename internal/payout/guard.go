package payout

import (
	"context"

	"github.com/roach88/cascade/internal/ledger"
)

// Reserver claims (deposit, period) slots.
type Reserver interface {
	ReserveReturn(ctx context.Context, r ledger.PeriodicReturn) (ledger.PeriodicReturn, bool, error)
}

// Reservation is the handle returned by a successful TryReserve.
type Reservation struct {
	// Return is the ledger row owning the slot.
	Return ledger.PeriodicReturn

	// Resumed is true when the slot was claimed by an earlier run that
	// stopped before crediting. The stored row is authoritative.
	Resumed bool
}

// Guard enforces one return per (deposit, period). The storage-level
// uniqueness constraint decides; the guard only interprets its outcome.
type Guard struct {
	reserver Reserver
}

// NewGuard creates a guard over reserver.
func NewGuard(reserver Reserver) *Guard {
	return &Guard{reserver: reserver}
}

// TryReserve claims the slot of r.
//
// Returns ErrAlreadyProcessed when a paid return holds the slot. A pending
// return left by an interrupted run is handed back as a resumed reservation.
func (g *Guard) TryReserve(ctx context.Context, r ledger.PeriodicReturn) (Reservation, error) {
	stored, inserted, err := g.reserver.ReserveReturn(ctx, r)
	if err != nil {
		return Reservation{}, err
	}
	if inserted {
		return Reservation{Return: stored}, nil
	}
	if stored.Status == ledger.ReturnPaid {
		return Reservation{}, ErrAlreadyProcessed
	}
	return Reservation{Return: stored, Resumed: true}, nil
}
