// Package report collects per-panel outcomes of a run and renders them.
package report

import (
	"errors"
	"fmt"
	"time"
)

type Outcome int

const (
	OutcomePassed Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) Value() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

func (o Outcome) String() string {
	return o.Value()
}

// PanelResult is the outcome of one panel or dual-stream pair.
type PanelResult struct {
	Name            string
	Protocol        string
	Family          string
	Synthetic       bool
	Pair            bool
	State           string
	Link            string
	Raster          string
	Frames          int
	Underflows      int
	BaselineCreated bool
	Outcome         Outcome
	Err             error
}

type Summary struct {
	Results  []PanelResult
	Duration time.Duration
	// Aborted is set when the run stopped before visiting every panel.
	Aborted bool
}

func (s *Summary) Add(result PanelResult) {
	s.Results = append(s.Results, result)
}

func (s *Summary) Count(outcome Outcome) int {
	count := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			count++
		}
	}
	return count
}

// Err joins the failures of every failed panel, nil when none failed.
func (s *Summary) Err() error {
	var errList []error
	for _, r := range s.Results {
		if r.Outcome != OutcomeFailed {
			continue
		}
		if r.Err == nil {
			errList = append(errList, fmt.Errorf("panel %s failed", r.Name))
			continue
		}
		errList = append(errList, r.Err)
	}
	return errors.Join(errList...)
}

func (s *Summary) Headline() string {
	return fmt.Sprintf("%d passed, %d failed, %d skipped",
		s.Count(OutcomePassed), s.Count(OutcomeFailed), s.Count(OutcomeSkipped))
}
