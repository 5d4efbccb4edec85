// Package payout runs the periodic return and commission cascade.
//
// One run processes every completed deposit for one period. Each deposit
// goes through a saga whose steps are individually idempotent:
//
//	compute  → plan rate × principal (unknown tier: skip, nothing written)
//	reserve  → conditional insert of a pending return for (deposit, period)
//	credit   → pending → paid and owner credit, one transaction
//	cascade  → one transaction per ancestor level, keyed by (return, level)
//	notify   → best effort, after the writes
//
// A reserved but unpaid return found by a later run is resumed from the
// credit step; a paid return is skipped as already processed. A cascade
// interrupted after the credit step is left for Reconcile and Repair.
//
// Failures are isolated per deposit. Run only returns an error when the
// eligible deposits cannot be enumerated.
package payout
