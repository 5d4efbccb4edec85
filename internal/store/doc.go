// Package store provides SQLite-backed durable storage for the payout ledger.
//
// Tables:
//   - accounts: balances, cumulative commissions, referral links
//   - deposits: investment positions and their lifecycle status
//   - periodic_returns: one payout row per (deposit, period)
//   - commissions: append-only cascade rows, one per (return, level)
//
// # Invariants
//
// Exactly-once payouts
//   - UNIQUE(deposit_id, period) on periodic_returns
//   - ReserveReturn is a single INSERT ... ON CONFLICT DO NOTHING; the
//     conflict outcome, not a prior read, is the "already processed" signal
//
// Exactly-once commissions
//   - UNIQUE(return_id, level) on commissions
//   - WriteCommission inserts the row, credits the beneficiary and updates
//     the return's breakdown in one transaction, so a retried level is a no-op
//
// Atomic balance updates
//   - balances only change via "balance = balance + ?" inside the
//     transaction that writes the ledger row justifying the credit
//   - never read-modify-write from Go
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as RFC 3339 UTC text; periods as YYYY-MM-DD text so
// range filters are plain string comparisons.
package store
