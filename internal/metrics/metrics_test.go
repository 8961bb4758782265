package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/audiolibrelab/meetrec/internal/audio"
	"github.com/audiolibrelab/meetrec/internal/recorder"
)

type fixedSnapshot recorder.Snapshot

func (f fixedSnapshot) Snapshot() recorder.Snapshot { return recorder.Snapshot(f) }

func TestRecordEvent(t *testing.T) {
	m := NewMetrics()

	m.RecordEvent(recorder.Event{Pipeline: recorder.RoleMic, Type: recorder.EventOpened})
	m.RecordEvent(recorder.Event{Pipeline: recorder.RoleMic, Type: recorder.EventFinalized, Size: 3 << 20})
	m.RecordEvent(recorder.Event{Pipeline: recorder.RoleSystem, Type: recorder.EventFailed, Kind: recorder.KindWrite, Err: errors.New("disk full")})
	m.RecordEvent(recorder.Event{Pipeline: recorder.RoleSystem, Type: recorder.EventOverrun, Dropped: 5})
	m.RecordEvent(recorder.Event{Pipeline: recorder.RoleSystem, Type: recorder.EventOverrun, Dropped: 2})

	if got := testutil.ToFloat64(m.PipelineEvents.WithLabelValues("mic", "opened")); got != 1 {
		t.Errorf("Expected 1 opened event, got %v", got)
	}
	if got := testutil.ToFloat64(m.PipelineFailures.WithLabelValues("system", "WriteError")); got != 1 {
		t.Errorf("Expected 1 WriteError failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.DroppedBlocks.WithLabelValues("system")); got != 7 {
		t.Errorf("Expected 7 dropped blocks, got %v", got)
	}
	if got := testutil.CollectAndCount(m.FinalizedSize); got != 1 {
		t.Errorf("Expected one finalized size series, got %d", got)
	}
}

func TestSessionCollector(t *testing.T) {
	src := fixedSnapshot{
		State:   recorder.StateRecording,
		Elapsed: 90 * time.Second,
		Pipelines: []recorder.PipelineSnapshot{
			{
				Role:          recorder.RoleMic,
				State:         recorder.PipelineRecording,
				Config:        audio.StreamConfig{Channels: 1, SampleRate: 48000, Format: audio.FormatFloat32},
				Blocks:        12,
				Frames:        12 * 480,
				Bytes:         44 + 12*960,
				Dropped:       1,
				QueueDepth:    2,
				QueueCapacity: 64,
			},
			{Role: recorder.RoleSystem, State: recorder.PipelineSkipped},
		},
	}

	expected := `
# HELP meetrec_pipeline_dropped_blocks_total Blocks dropped because the writer fell behind
# TYPE meetrec_pipeline_dropped_blocks_total counter
meetrec_pipeline_dropped_blocks_total{pipeline="mic"} 1
# HELP meetrec_pipeline_queue_depth Blocks waiting to be written
# TYPE meetrec_pipeline_queue_depth gauge
meetrec_pipeline_queue_depth{pipeline="mic"} 2
# HELP meetrec_pipeline_state Current pipeline state, 1 for the active state
# TYPE meetrec_pipeline_state gauge
meetrec_pipeline_state{pipeline="mic",state="recording"} 1
meetrec_pipeline_state{pipeline="system",state="skipped"} 1
# HELP meetrec_session_state Current session state, 1 for the active state
# TYPE meetrec_session_state gauge
meetrec_session_state{state="finalized"} 0
meetrec_session_state{state="idle"} 0
meetrec_session_state{state="recording"} 1
meetrec_session_state{state="stopping"} 0
`
	c := NewSessionCollector(src)
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"meetrec_pipeline_dropped_blocks_total",
		"meetrec_pipeline_queue_depth",
		"meetrec_pipeline_state",
		"meetrec_session_state",
	)
	if err != nil {
		t.Errorf("Unexpected metrics: %v", err)
	}

	// skipped pipelines only export their state
	if got := testutil.CollectAndCount(c, "meetrec_pipeline_written_frames_total"); got != 1 {
		t.Errorf("Expected one frames series, got %d", got)
	}
}

func TestWatchSession(t *testing.T) {
	m := NewMetrics()
	src := fixedSnapshot{State: recorder.StateIdle}

	if err := m.WatchSession(src); err != nil {
		t.Fatalf("WatchSession() error = %v", err)
	}
	if err := m.WatchSession(src); err == nil {
		t.Error("Expected duplicate registration to fail")
	}

	problems, err := testutil.CollectAndLint(NewSessionCollector(fixedSnapshot{
		State:     recorder.StateRecording,
		Pipelines: []recorder.PipelineSnapshot{{Role: recorder.RoleMic, State: recorder.PipelineRecording}},
	}))
	if err != nil {
		t.Fatalf("CollectAndLint() error = %v", err)
	}
	for _, p := range problems {
		t.Errorf("Lint problem in %s: %s", p.Metric, p.Text)
	}
}
