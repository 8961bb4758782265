package recorder

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("stream lost")
	err := fmt.Errorf("recording: %w", newPipelineError(RoleSystem, KindDevice, cause))

	if !errors.Is(err, ErrDevice) {
		t.Error("Expected errors.Is(err, ErrDevice)")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is(err, cause)")
	}
	if errors.Is(err, ErrWrite) {
		t.Error("Did not expect errors.Is(err, ErrWrite)")
	}

	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Pipeline != RoleSystem {
		t.Fatalf("Expected a system PipelineError, got %v", err)
	}
	want := "system pipeline: DeviceError: stream lost"
	if pe.Error() != want {
		t.Errorf("Expected %q, got %q", want, pe.Error())
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != KindNone {
		t.Error("Expected KindNone for nil")
	}
	if KindOf(errors.New("plain")) != KindNone {
		t.Error("Expected KindNone for a plain error")
	}
	joined := errors.Join(errors.New("other"), newPipelineError(RoleMic, KindFileOpen, errors.New("denied")))
	if KindOf(joined) != KindFileOpen {
		t.Errorf("Expected FileOpenError, got %s", KindOf(joined))
	}
}

func TestPipelineReport_String(t *testing.T) {
	tests := []struct {
		report PipelineReport
		want   string
	}{
		{PipelineReport{Outcome: OutcomeSucceeded}, "succeeded"},
		{PipelineReport{Outcome: OutcomeSucceededWithDrops, Dropped: 7}, "succeeded with dropped blocks (7)"},
		{PipelineReport{Outcome: OutcomeFailed, Kind: KindWrite}, "failed: WriteError"},
		{PipelineReport{Outcome: OutcomeFailed, Kind: KindDevice}, "failed: DeviceError"},
		{PipelineReport{Outcome: OutcomeSkipped}, "skipped"},
		{PipelineReport{}, "skipped"},
	}

	for _, tt := range tests {
		if got := tt.report.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestReport_Err(t *testing.T) {
	r := &Report{
		Mic:    PipelineReport{Outcome: OutcomeSucceededWithDrops, Dropped: 1},
		System: PipelineReport{Outcome: OutcomeSkipped},
	}
	if r.Err() != nil || !r.Succeeded() {
		t.Errorf("Expected drops and skips to count as success, got %v", r.Err())
	}

	r.System = PipelineReport{Outcome: OutcomeFailed, Kind: KindWrite, Err: newPipelineError(RoleSystem, KindWrite, errDiskFull)}
	if r.Succeeded() {
		t.Error("Expected failure to be reported")
	}
	if !errors.Is(r.Err(), errDiskFull) {
		t.Errorf("Expected joined error to carry the cause, got %v", r.Err())
	}
}
