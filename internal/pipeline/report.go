package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/onboard-cloud-filter/bandstore"
	"github.com/signalsfoundry/onboard-cloud-filter/core"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/downlink"
	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// State is a step of the per-cycle state machine.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateAssembling
	StateNormalizing
	StateInferring
	StateDeciding
	StatePackaging
	StateSkipping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateAssembling:
		return "assembling"
	case StateNormalizing:
		return "normalizing"
	case StateInferring:
		return "inferring"
	case StateDeciding:
		return "deciding"
	case StatePackaging:
		return "packaging"
	case StateSkipping:
		return "skipping"
	default:
		return "unknown"
	}
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeDownlinked Outcome = "downlinked"
	OutcomeDiscarded  Outcome = "discarded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Causes attributed to cycles that ended without a decision or without a
// packet.
const (
	CauseEmptyCatalog    = "empty_catalog"
	CauseMissingChannel  = "missing_channel"
	CauseIncompleteFrame = "incomplete_frame"
	CauseArchive         = "archive"
	CauseInference       = "inference"
	CauseWriteFailure    = "write_failure"
	CauseCanceled        = "canceled"
)

// CycleReport is the diagnostic record of one capture cycle.
type CycleReport struct {
	Cycle   int
	CycleID string
	Time    time.Time
	Scene   model.SceneRef

	// Footprint is set when a ground track is configured and propagation
	// succeeded.
	Footprint *model.Footprint

	// Trace lists the states entered in order. It always ends in StateIdle.
	Trace []State

	Outcome Outcome
	Cause   string
	Err     error

	// Decided reports whether the decision policy ran. Fraction and
	// Disposition are meaningful only when it did.
	Decided     bool
	Fraction    float64
	Disposition model.Disposition

	Packet   *model.Packet
	Duration time.Duration
}

// LastStage returns the last state entered before returning to idle.
func (r CycleReport) LastStage() State {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		if r.Trace[i] != StateIdle {
			return r.Trace[i]
		}
	}
	return StateIdle
}

// Summary aggregates the reports of a run.
type Summary struct {
	Cycles          int
	Downlinked      int
	Discarded       int
	Skipped         int
	Failed          int
	BytesDownlinked int
	Causes          map[string]int
}

// Add folds r into the summary.
func (s *Summary) Add(r CycleReport) {
	s.Cycles++
	switch r.Outcome {
	case OutcomeDownlinked:
		s.Downlinked++
	case OutcomeDiscarded:
		s.Discarded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
	if r.Cause != "" {
		if s.Causes == nil {
			s.Causes = make(map[string]int)
		}
		s.Causes[r.Cause]++
	}
	if r.Packet != nil {
		s.BytesDownlinked += r.Packet.ScienceBytes + r.Packet.PreviewBytes
	}
}

// classify maps a per-cycle error to its outcome and named cause.
func classify(err error) (Outcome, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeSkipped, CauseCanceled
	case errors.Is(err, bandstore.ErrEmptyCatalog):
		return OutcomeSkipped, CauseEmptyCatalog
	case errors.Is(err, bandstore.ErrMissingChannel):
		return OutcomeSkipped, CauseMissingChannel
	case errors.Is(err, core.ErrIncompleteFrame):
		return OutcomeSkipped, CauseIncompleteFrame
	case errors.Is(err, downlink.ErrWriteFailure):
		return OutcomeFailed, CauseWriteFailure
	case errors.Is(err, errInference):
		return OutcomeSkipped, CauseInference
	default:
		return OutcomeSkipped, CauseArchive
	}
}
