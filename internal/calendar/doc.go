// Package calendar resolves civil dates in the fixed operating timezone.
//
// Every payout is keyed by a Period: the civil day (YYYY-MM-DD) in the
// operating location, never the host's local zone. The same key drives
// scheduling decisions and the per-deposit deduplication constraint, so
// PeriodKey must be a pure function of the instant and the location.
package calendar
