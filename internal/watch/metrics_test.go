package watch_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wyrmiyu/logs2eca/internal/watch"
)

// waitForGauge polls until g holds want or the deadline passes.
func waitForGauge(t *testing.T, g *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.Load() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("gauge = %d, want %d", g.Load(), want)
}

// TestNewMetrics verifies that NewMetrics returns a zero-initialised struct.
func TestNewMetrics(t *testing.T) {
	m := watch.NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.FSEvents.Load() != 0 || m.LinesMatched.Load() != 0 || m.FileAttached.Load() != 0 {
		t.Error("counters must start at zero")
	}
}

// TestMetricsHandler_PrometheusFormat verifies that Handler writes well-formed
// Prometheus text exposition format output.
func TestMetricsHandler_PrometheusFormat(t *testing.T) {
	m := watch.NewMetrics()
	// Set some non-zero values so we can assert they appear in the output.
	m.FSEvents.Add(3)
	m.LinesMatched.Add(7)
	m.FileAttached.Store(1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	resp := rec.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("handler returned status %d; want 200", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q; want text/plain prefix", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	output := string(body)

	expectedMetrics := []struct {
		name     string
		kind     string
		contains string
	}{
		{"logs2eca_fs_events_total", "counter", "logs2eca_fs_events_total 3"},
		{"logs2eca_lines_read_total", "counter", "logs2eca_lines_read_total 0"},
		{"logs2eca_lines_matched_total", "counter", "logs2eca_lines_matched_total 7"},
		{"logs2eca_actions_started_total", "counter", "logs2eca_actions_started_total 0"},
		{"logs2eca_action_start_errors_total", "counter", "logs2eca_action_start_errors_total 0"},
		{"logs2eca_action_nonzero_exits_total", "counter", "logs2eca_action_nonzero_exits_total 0"},
		{"logs2eca_file_reopens_total", "counter", "logs2eca_file_reopens_total 0"},
		{"logs2eca_file_attached", "gauge", "logs2eca_file_attached 1"},
	}

	for _, em := range expectedMetrics {
		helpLine := "# HELP " + em.name
		typeLine := "# TYPE " + em.name + " " + em.kind
		if !strings.Contains(output, helpLine) {
			t.Errorf("missing HELP line for %s", em.name)
		}
		if !strings.Contains(output, typeLine) {
			t.Errorf("missing TYPE line for %s: %s", em.name, typeLine)
		}
		if !strings.Contains(output, em.contains) {
			t.Errorf("missing sample line %q in output:\n%s", em.contains, output)
		}
	}
}

// TestMetricsHandler_ZeroValues verifies the handler works correctly when all
// metrics are at their initial zero values.
func TestMetricsHandler_ZeroValues(t *testing.T) {
	m := watch.NewMetrics()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	output := string(body)

	// Zero-value samples must still appear (Prometheus requires them).
	if !strings.Contains(output, "logs2eca_fs_events_total 0") {
		t.Errorf("zero-value counter not present in output:\n%s", output)
	}
	if !strings.Contains(output, "logs2eca_file_attached 0") {
		t.Errorf("zero-value gauge not present in output:\n%s", output)
	}
}

// TestWithMetrics_CountersTrackLoopActivity verifies that a loop built with
// WithMetrics counts events, lines, matches, and actions.
func TestWithMetrics_CountersTrackLoopActivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendString(t, path, "seed line\n")

	m := watch.NewMetrics()
	h := startLoop(t, path, "timeout", watch.WithMetrics(m))

	appendString(t, path, "request timeout\n")
	waitForCalls(t, h.runner, 1, 2*time.Second)

	if got := m.FSEvents.Load(); got < 1 {
		t.Errorf("FSEvents = %d; want >= 1", got)
	}
	if got := m.LinesRead.Load(); got != 1 {
		t.Errorf("LinesRead = %d; want 1", got)
	}
	if got := m.LinesMatched.Load(); got != 1 {
		t.Errorf("LinesMatched = %d; want 1", got)
	}
	if got := m.ActionsStarted.Load(); got != 1 {
		t.Errorf("ActionsStarted = %d; want 1", got)
	}
	if got := m.ActionStartErrors.Load(); got != 0 {
		t.Errorf("ActionStartErrors = %d; want 0", got)
	}
	if got := m.ActionNonzeroExits.Load(); got != 0 {
		t.Errorf("ActionNonzeroExits = %d; want 0", got)
	}
	if got := m.FileAttached.Load(); got != 1 {
		t.Errorf("FileAttached = %d; want 1", got)
	}
}

// TestWithMetrics_ReopenAndAttachmentGauge verifies that deleting and
// re-creating the watched file flips the attachment gauge and counts the
// reopen.
func TestWithMetrics_ReopenAndAttachmentGauge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendString(t, path, "seed line\n")

	m := watch.NewMetrics()
	h := startLoop(t, path, "timeout", watch.WithMetrics(m))

	if got := m.FileAttached.Load(); got != 1 {
		t.Fatalf("FileAttached after start = %d; want 1", got)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove log file: %v", err)
	}
	waitForGauge(t, &m.FileAttached, 0)

	appendString(t, path, "fresh timeout\n")
	waitForCalls(t, h.runner, 1, 2*time.Second)

	waitForGauge(t, &m.FileAttached, 1)
	if got := m.FileReopens.Load(); got < 1 {
		t.Errorf("FileReopens = %d; want >= 1", got)
	}
}
