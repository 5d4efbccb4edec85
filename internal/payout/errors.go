package payout

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cascade/internal/calendar"
)

// ErrAlreadyProcessed is returned by the guard when the (deposit, period)
// slot holds a paid return. It is an expected outcome, not a failure.
var ErrAlreadyProcessed = errors.New("payout: already processed for period")

// Step identifies the saga step a per-deposit failure happened in.
type Step string

const (
	// StepCompute is the rate lookup and return calculation.
	StepCompute Step = "COMPUTE"

	// StepLoad covers reading the deposit owner before any write.
	StepLoad Step = "LOAD"

	// StepReserve is the conditional insert of the pending return.
	StepReserve Step = "RESERVE"

	// StepCredit flips the return to paid and credits the owner.
	StepCredit Step = "CREDIT"

	// StepCascade walks the referral chain and writes commissions.
	StepCascade Step = "CASCADE"
)

// StepError is a per-deposit write failure. The batch continues; the
// deposit's remaining steps are abandoned.
type StepError struct {
	Step      Step
	DepositID string
	Period    calendar.Period
	At        time.Time
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: deposit %s period %s: %v", e.Step, e.DepositID, e.Period, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsStepError reports whether err is (or wraps) a StepError.
func IsStepError(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}

// FailedStep returns the step of a wrapped StepError.
func FailedStep(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
