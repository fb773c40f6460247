package watch

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters and gauges for the watch loop.  All
// fields are updated atomically so they can be read concurrently from an HTTP
// handler without holding any additional lock.
//
// Handler returns an [net/http.Handler] that serves the metrics in the
// standard Prometheus text exposition format on every GET request.
//
// Metric catalogue:
//
//	logs2eca_fs_events_total            – counter: filesystem events observed for the watched file
//	logs2eca_lines_read_total           – counter: complete log lines read from the file
//	logs2eca_lines_matched_total        – counter: lines that matched the event pattern
//	logs2eca_actions_started_total      – counter: action commands started
//	logs2eca_action_start_errors_total  – counter: action commands that could not be spawned
//	logs2eca_action_nonzero_exits_total – counter: action commands that exited non-zero
//	logs2eca_file_reopens_total         – counter: times the log file was reopened from the start
//	logs2eca_file_attached              – gauge:   1 when a log file handle is held, 0 otherwise
type Metrics struct {
	// Counters
	FSEvents           atomic.Int64
	LinesRead          atomic.Int64
	LinesMatched       atomic.Int64
	ActionsStarted     atomic.Int64
	ActionStartErrors  atomic.Int64
	ActionNonzeroExits atomic.Int64
	FileReopens        atomic.Int64

	// Gauge (0 or 1)
	FileAttached atomic.Int64
}

// NewMetrics allocates a new [Metrics] value with all counters at zero.  The
// returned pointer can be passed to [WithMetrics] when constructing a [Loop]
// and its [Metrics.Handler] can be served on any HTTP mux.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// metricLine is a single Prometheus metric family descriptor plus its current value.
type metricLine struct {
	help  string
	kind  string // "counter" or "gauge"
	name  string
	value int64
}

// snapshot captures the current values of all metrics in a consistent order.
func (m *Metrics) snapshot() []metricLine {
	return []metricLine{
		{
			help:  "Total number of filesystem events observed for the watched file.",
			kind:  "counter",
			name:  "logs2eca_fs_events_total",
			value: m.FSEvents.Load(),
		},
		{
			help:  "Total number of complete log lines read from the file.",
			kind:  "counter",
			name:  "logs2eca_lines_read_total",
			value: m.LinesRead.Load(),
		},
		{
			help:  "Total number of lines that matched the event pattern.",
			kind:  "counter",
			name:  "logs2eca_lines_matched_total",
			value: m.LinesMatched.Load(),
		},
		{
			help:  "Total number of action commands started.",
			kind:  "counter",
			name:  "logs2eca_actions_started_total",
			value: m.ActionsStarted.Load(),
		},
		{
			help:  "Total number of action commands that could not be spawned.",
			kind:  "counter",
			name:  "logs2eca_action_start_errors_total",
			value: m.ActionStartErrors.Load(),
		},
		{
			help:  "Total number of action commands that exited with a non-zero status.",
			kind:  "counter",
			name:  "logs2eca_action_nonzero_exits_total",
			value: m.ActionNonzeroExits.Load(),
		},
		{
			help:  "Total number of times the log file was reopened from offset zero.",
			kind:  "counter",
			name:  "logs2eca_file_reopens_total",
			value: m.FileReopens.Load(),
		},
		{
			help:  "1 when a log file handle is currently held, 0 otherwise.",
			kind:  "gauge",
			name:  "logs2eca_file_attached",
			value: m.FileAttached.Load(),
		},
	}
}

// Handler returns an [http.Handler] that writes all watch loop metrics in the
// Prometheus text exposition format on every GET request.
//
// The content type is set to "text/plain; version=0.0.4" as required by
// the Prometheus specification so that a vanilla Prometheus scraper will
// parse the output correctly.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

// writeMetrics serialises lines into Prometheus text exposition format.
func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		fmt.Fprintf(w, "%s %d\n", l.name, l.value)
	}
}
