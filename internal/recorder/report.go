package recorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/audiolibrelab/meetrec/internal/audio"
)

// Outcome is the final status of one pipeline
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeSucceededWithDrops Outcome = "succeeded with dropped blocks"
	OutcomeFailed             Outcome = "failed"
	OutcomeSkipped            Outcome = "skipped"
)

// PipelineReport summarizes one pipeline once the session is finalized
type PipelineReport struct {
	Role     Role               `json:"role"`
	Outcome  Outcome            `json:"outcome"`
	Kind     ErrorKind          `json:"-"`
	Err      error              `json:"-"`
	Device   string             `json:"device,omitempty"`
	Path     string             `json:"path,omitempty"`
	Config   audio.StreamConfig `json:"config"`
	Frames   int64              `json:"frames"`
	Size     int64              `json:"size"`
	Dropped  uint64             `json:"dropped"`
	Duration time.Duration      `json:"duration"`
}

func (r PipelineReport) String() string {
	switch r.Outcome {
	case OutcomeFailed:
		return fmt.Sprintf("failed: %s", r.Kind)
	case OutcomeSucceededWithDrops:
		return fmt.Sprintf("%s (%d)", r.Outcome, r.Dropped)
	case "":
		return string(OutcomeSkipped)
	}
	return string(r.Outcome)
}

// Report aggregates both pipelines. Nothing is dropped: every failure shows
// up here even though neither pipeline aborts the other.
type Report struct {
	Started time.Time      `json:"started"`
	Ended   time.Time      `json:"ended"`
	Mic     PipelineReport `json:"mic"`
	System  PipelineReport `json:"system"`
}

func (r *Report) Pipelines() []PipelineReport {
	return []PipelineReport{r.Mic, r.System}
}

// Err joins the errors of every failed pipeline
func (r *Report) Err() error {
	var errs []error
	for _, p := range r.Pipelines() {
		if p.Outcome == OutcomeFailed && p.Err != nil {
			errs = append(errs, p.Err)
		}
	}
	return errors.Join(errs...)
}

// Succeeded reports whether no pipeline failed
func (r *Report) Succeeded() bool {
	for _, p := range r.Pipelines() {
		if p.Outcome == OutcomeFailed {
			return false
		}
	}
	return true
}

// EventType names a pipeline lifecycle event
type EventType string

const (
	EventOpened    EventType = "opened"
	EventStopped   EventType = "stopped"
	EventFinalized EventType = "finalized"
	EventFailed    EventType = "failed"
	EventSkipped   EventType = "skipped"
	EventOverrun   EventType = "overrun"
)

// Event is a lifecycle notification for one pipeline
type Event struct {
	Pipeline Role
	Type     EventType
	Time     time.Time
	Path     string
	Size     int64
	Frames   int64
	Dropped  uint64
	Kind     ErrorKind
	Err      error
}

// PipelineSnapshot is the live view of one pipeline
type PipelineSnapshot struct {
	Role          Role               `json:"role"`
	State         PipelineState      `json:"state"`
	Device        string             `json:"device,omitempty"`
	Path          string             `json:"path,omitempty"`
	Config        audio.StreamConfig `json:"config"`
	Blocks        uint64             `json:"blocks"`
	Frames        int64              `json:"frames"`
	Dropped       uint64             `json:"dropped"`
	Bytes         int64              `json:"bytes"`
	QueueDepth    int                `json:"queue_depth"`
	QueueCapacity int                `json:"queue_capacity"`
	Error         string             `json:"error,omitempty"`
}

// Snapshot is the live view of a session
type Snapshot struct {
	State     State              `json:"state"`
	StartedAt time.Time          `json:"started_at"`
	Elapsed   time.Duration      `json:"elapsed"`
	Pipelines []PipelineSnapshot `json:"pipelines"`
}
