// Package errs provides common errors thrown in the app that are expected to be caught upstream
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolResolution          = errors.New("cant resolve output protocol")
	ErrEmptyResult                 = errors.New("no panels matched")
	ErrResourceConflict            = errors.New("pipeline resource already owned")
	ErrInvalidLinkParameter        = errors.New("invalid link parameter")
	ErrNoFeasibleLink              = errors.New("no feasible link configuration")
	ErrCapabilityProbe             = errors.New("capability probe failed")
	ErrCurveProgramming            = errors.New("color curve programming failed")
	ErrCommitFailed                = errors.New("modeset commit failed")
	ErrVerificationBaselineMissing = errors.New("verification baseline missing")
	ErrVerificationMismatch        = errors.New("verification signature mismatch")
	ErrVrrUnsupported              = errors.New("vrr not supported")
	ErrVrrOverrun                  = errors.New("vrr one-shot trigger missed")
	ErrDisplayUnderflow            = errors.New("display underflow")
	ErrHardwareTimeout             = errors.New("hardware operation timed out")
	ErrIllegalTransition           = errors.New("operation not allowed in current state")
)

// PanelError attaches the panel identity and the attempted configuration
// to a failure so it can be logged without extra context.
type PanelError struct {
	Panel   string
	Op      string
	Attempt string
	Err     error
}

func (e *PanelError) Error() string {
	if e.Attempt != "" {
		return fmt.Sprintf("panel %s: %s (%s): %v", e.Panel, e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("panel %s: %s: %v", e.Panel, e.Op, e.Err)
}

func (e *PanelError) Unwrap() error {
	return e.Err
}

func NewPanelError(panel, op, attempt string, err error) *PanelError {
	return &PanelError{Panel: panel, Op: op, Attempt: attempt, Err: err}
}

// IsFatal reports whether err aborts the panel's configuration sequence.
// Underflows are observational and never abort.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrDisplayUnderflow)
}
