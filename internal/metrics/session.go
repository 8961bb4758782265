package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/audiolibrelab/meetrec/internal/recorder"
)

// SnapshotSource is implemented by *recorder.Session
type SnapshotSource interface {
	Snapshot() recorder.Snapshot
}

var sessionStates = []recorder.State{
	recorder.StateIdle,
	recorder.StateRecording,
	recorder.StateStopping,
	recorder.StateFinalized,
}

// SessionCollector turns session snapshots into metrics at scrape time, so
// nothing on the recording path has to update a gauge.
type SessionCollector struct {
	src SnapshotSource

	state         *prometheus.Desc
	elapsed       *prometheus.Desc
	pipelineState *prometheus.Desc
	blocks        *prometheus.Desc
	frames        *prometheus.Desc
	bytes         *prometheus.Desc
	dropped       *prometheus.Desc
	queueDepth    *prometheus.Desc
	queueCapacity *prometheus.Desc
	sampleRate    *prometheus.Desc
}

func NewSessionCollector(src SnapshotSource) *SessionCollector {
	pipeline := []string{"pipeline"}
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }

	return &SessionCollector{
		src:           src,
		state:         prometheus.NewDesc(name("session_state"), "Current session state, 1 for the active state", []string{"state"}, nil),
		elapsed:       prometheus.NewDesc(name("session_elapsed_seconds"), "Time since recording started", nil, nil),
		pipelineState: prometheus.NewDesc(name("pipeline_state"), "Current pipeline state, 1 for the active state", []string{"pipeline", "state"}, nil),
		blocks:        prometheus.NewDesc(name("pipeline_captured_blocks_total"), "Blocks accepted from the device callback", pipeline, nil),
		frames:        prometheus.NewDesc(name("pipeline_written_frames_total"), "Frames written to the output file", pipeline, nil),
		bytes:         prometheus.NewDesc(name("pipeline_file_bytes"), "Current size of the output file", pipeline, nil),
		dropped:       prometheus.NewDesc(name("pipeline_dropped_blocks_total"), "Blocks dropped because the writer fell behind", pipeline, nil),
		queueDepth:    prometheus.NewDesc(name("pipeline_queue_depth"), "Blocks waiting to be written", pipeline, nil),
		queueCapacity: prometheus.NewDesc(name("pipeline_queue_capacity"), "Capacity of the handoff queue", pipeline, nil),
		sampleRate:    prometheus.NewDesc(name("pipeline_sample_rate_hertz"), "Negotiated sample rate", pipeline, nil),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.state, c.elapsed, c.pipelineState, c.blocks, c.frames,
		c.bytes, c.dropped, c.queueDepth, c.queueCapacity, c.sampleRate,
	} {
		ch <- d
	}
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Snapshot()

	for _, s := range sessionStates {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, boolValue(snap.State == s), s.String())
	}
	ch <- prometheus.MustNewConstMetric(c.elapsed, prometheus.GaugeValue, snap.Elapsed.Seconds())

	for _, p := range snap.Pipelines {
		role := string(p.Role)
		ch <- prometheus.MustNewConstMetric(c.pipelineState, prometheus.GaugeValue, 1, role, string(p.State))
		if p.State == recorder.PipelineSkipped {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.CounterValue, float64(p.Blocks), role)
		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(p.Frames), role)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(p.Bytes), role)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(p.Dropped), role)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(p.QueueDepth), role)
		ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(p.QueueCapacity), role)
		ch <- prometheus.MustNewConstMetric(c.sampleRate, prometheus.GaugeValue, float64(p.Config.SampleRate), role)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
