// Package model defines the data types produced by a timerlat collection
// run. TimerlatResult is serialized to JSON and consumed by the host
// orchestration layer.
package model

import "time"

// HistogramRow is one latency bucket across all monitored CPU/context
// columns. Values is keyed by the lowercased column headers from the rtla
// report (e.g. "irq-001", "thr-001", "usr-001"). Rows are kept in the
// report's emission order, ascending by bucket index.
type HistogramRow struct {
	Index  int64            `json:"index"`
	Values map[string]int64 `json:"values"`
}

// StatRow has the same column shape as HistogramRow but its index column
// carries a statistic label (over, count, min, avg, max) instead of a
// bucket number. The columnar shape is retained for display fidelity.
type StatRow struct {
	Label  string           `json:"label"`
	Values map[string]int64 `json:"values"`
}

// LatencyStats is one aggregate statistic block for a single measurement
// context. Nil fields mean the statistic was not present in this run, which
// is distinct from a measured zero.
type LatencyStats struct {
	Count *int64 `json:"count,omitempty"`
	Min   *int64 `json:"min,omitempty"`
	Avg   *int64 `json:"avg,omitempty"`
	Max   *int64 `json:"max,omitempty"`
}

// Set stores v under the given statistic label. It reports false for labels
// that are not aggregate statistics.
func (s *LatencyStats) Set(label string, v int64) bool {
	switch label {
	case "count":
		s.Count = &v
	case "min":
		s.Min = &v
	case "avg":
		s.Avg = &v
	case "max":
		s.Max = &v
	default:
		return false
	}
	return true
}

// Empty reports whether no statistic was populated.
func (s LatencyStats) Empty() bool {
	return s.Count == nil && s.Min == nil && s.Avg == nil && s.Max == nil
}

// TimeseriesPoint is a single latency sample. Timestamp is derived
// wall-clock time; Latency is in the tool-native unit.
type TimeseriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Latency   int64     `json:"latency"`
}

// RunMetadata identifies a single collection run.
type RunMetadata struct {
	RunID         string    `json:"run_id"`
	Hostname      string    `json:"hostname"`
	KernelVersion string    `json:"kernel_version"`
	Command       []string  `json:"command"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	FinishedEarly bool      `json:"finished_early"`
	TraceNote     string    `json:"trace_note,omitempty"`
}

// TimerlatResult is the aggregate output of one `rtla timerlat hist` run.
// TotalUsrLatency is present only when user-thread mode was requested.
// Timeseries maps "cpu{N}_{context}" keys to samples in arrival order and is
// omitted when trace mirroring was disabled or unavailable.
type TimerlatResult struct {
	TimeUnit        string                       `json:"time_unit"`
	LatencyHist     []HistogramRow               `json:"latency_hist"`
	StatsPerCol     []StatRow                    `json:"stats_per_col"`
	TotalIRQLatency LatencyStats                 `json:"total_irq_latency"`
	TotalThrLatency LatencyStats                 `json:"total_thr_latency"`
	TotalUsrLatency *LatencyStats                `json:"total_usr_latency,omitempty"`
	Timeseries      map[string][]TimeseriesPoint `json:"timeseries,omitempty"`
	Metadata        RunMetadata                  `json:"metadata"`
}

// ErrorOutput carries a fatal failure description, including the offending
// command or line verbatim so operators can diagnose externally.
type ErrorOutput struct {
	Error string `json:"error"`
}

// CollectionOutcome is the tagged result of one invocation: exactly one of
// Result or Error is set.
type CollectionOutcome struct {
	Result *TimerlatResult `json:"result,omitempty"`
	Error  *ErrorOutput    `json:"error,omitempty"`
}
