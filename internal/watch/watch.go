// Package watch contains the logs2eca watch loop: the single goroutine that
// owns the file cursor and drives line reading, pattern matching, and action
// execution from filesystem events and rotation signals.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wyrmiyu/logs2eca/internal/action"
	"github.com/wyrmiyu/logs2eca/internal/cursor"
	"github.com/wyrmiyu/logs2eca/internal/dirwatch"
	"github.com/wyrmiyu/logs2eca/internal/pattern"
)

// Trigger is the record of one action invocation, persisted by the optional
// history store and served by the status endpoint.
type Trigger struct {
	ID          int64     `json:"id"`
	MatchedLine string    `json:"matched_line"`
	Pattern     string    `json:"pattern"`
	Command     string    `json:"command"`
	ExitCode    int       `json:"exit_code"`
	DurationMS  int64     `json:"duration_ms"`
	MatchedAt   time.Time `json:"matched_at"`
}

// Runner fires the configured action when a line matches. *action.Runner is
// the production implementation.
type Runner interface {
	// Run executes the action and blocks through its quiescence period.
	Run(ctx context.Context) (action.Result, error)
	// Command returns the command line for logging and trigger records.
	Command() string
}

// Recorder persists trigger records. *history.Store is the production
// implementation.
type Recorder interface {
	Record(ctx context.Context, tr Trigger) error
}

// Status is a point-in-time snapshot of the loop's state, served by the
// status endpoint. Timestamps are RFC3339 strings, empty until first set.
type Status struct {
	LogFile      string `json:"log_file"`
	Pattern      string `json:"pattern"`
	InstanceID   string `json:"instance_id"`
	Active       bool   `json:"active"`
	Offset       int64  `json:"offset"`
	StartedAt    string `json:"started_at,omitempty"`
	LastEventAt  string `json:"last_event_at,omitempty"`
	LastMatchAt  string `json:"last_match_at,omitempty"`
	ActionCount  int64  `json:"action_count"`
	LastExitCode int    `json:"last_exit_code"`
}

// Loop binds the cursor, pattern, runner, and event source into the watcher's
// single thread of control. Run owns all cursor mutation; Rotate and Snapshot
// are the only methods other goroutines may call.
type Loop struct {
	cur    *cursor.Cursor
	pat    *pattern.Pattern
	runner Runner
	dw     *dirwatch.DirWatch
	logger *slog.Logger

	recorder Recorder
	metrics  *Metrics

	// id is this instance's marker, "<" + 8 hex chars + ">". It is attached
	// to every log record so that a deployment whose own stderr is routed
	// into the watched file cannot trigger itself: lines containing the id
	// are skipped before matching.
	id string

	rotate     atomic.Bool
	rotateWake chan struct{}
	ready      chan struct{}

	mu           sync.RWMutex
	running      bool
	startTime    time.Time
	lastEventAt  time.Time
	lastMatchAt  time.Time
	actionCount  int64
	lastExitCode int
	offset       int64
	active       bool
}

// New assembles a Loop from its collaborators. The optional trigger recorder
// is attached via WithRecorder.
func New(cur *cursor.Cursor, pat *pattern.Pattern, runner Runner, dw *dirwatch.DirWatch, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		cur:        cur,
		pat:        pat,
		runner:     runner,
		dw:         dw,
		id:         "<" + uuid.NewString()[:8] + ">",
		rotateWake: make(chan struct{}, 1),
		ready:      make(chan struct{}),
	}
	l.logger = logger.With(slog.String("instance", l.id))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Option is a functional option for Loop construction.
type Option func(*Loop)

// WithRecorder attaches a trigger history recorder. Without one, invocations
// are only logged.
func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

// WithMetrics attaches an operational metrics collector. Without one, no
// counters are kept.
func WithMetrics(m *Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// InstanceID returns this instance's self-echo marker, including the angle
// brackets.
func (l *Loop) InstanceID() string {
	return l.id
}

// Ready returns a channel that is closed once Run has made its initial
// attach attempt on the log file. Waiting on it before writing to the file
// eliminates startup races in tests.
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// Rotate schedules a reopen-from-start at the top of the loop's next
// iteration. It is safe to call from a signal handling goroutine: no file
// I/O happens on the caller.
func (l *Loop) Rotate() {
	l.rotate.Store(true)
	select {
	case l.rotateWake <- struct{}{}:
	default:
	}
}

// Run drives the watch loop until ctx is cancelled or the event source hits
// a terminal error. It returns nil on clean shutdown. The cursor handle is
// closed on every exit path.
//
// A Loop is single use: only the first call to Run proceeds, and later calls
// return an error even after the first has exited.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("watch: already running")
	}
	l.running = true
	l.startTime = time.Now()
	l.mu.Unlock()

	defer func() {
		if err := l.cur.Close(); err != nil {
			l.logger.Warn("watch: closing cursor", slog.Any("error", err))
		}
	}()

	// Attach to the file if it already exists, positioned at the current end
	// so pre-existing content is ignored. A missing file is not an error:
	// the create event attaches us later.
	if err := l.cur.Open(); err != nil {
		l.logger.Warn("watch: log file not yet readable, waiting for it to appear",
			slog.String("path", l.cur.Path()),
			slog.Any("error", err),
		)
	} else {
		l.logger.Info("watch: attached to log file",
			slog.String("path", l.cur.Path()),
			slog.Int64("offset", l.cur.Offset()),
		)
	}
	l.publishCursor()
	close(l.ready)

	for {
		// Rotation takes priority over pending events so the reopen happens
		// before any further read advances the old handle.
		if l.rotate.CompareAndSwap(true, false) {
			l.reopenForRotation()
		}

		select {
		case <-ctx.Done():
			l.logger.Info("watch: shutting down")
			return nil

		case <-l.rotateWake:
			// Consumed at the top of the next iteration.

		case ev, ok := <-l.dw.Events():
			if !ok {
				return l.terminalError()
			}
			l.handleEvent(ctx, ev)

		case err := <-l.dw.Errors():
			if errors.Is(err, dirwatch.ErrDirectoryGone) {
				return err
			}
			l.logger.Warn("watch: event source error", slog.Any("error", err))
		}
	}
}

// Snapshot returns a copy of the loop's current status. Safe to call from
// any goroutine.
func (l *Loop) Snapshot() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Status{
		LogFile:      l.cur.Path(),
		Pattern:      l.pat.String(),
		InstanceID:   l.id,
		Active:       l.active,
		Offset:       l.offset,
		ActionCount:  l.actionCount,
		LastExitCode: l.lastExitCode,
	}
	if !l.startTime.IsZero() {
		s.StartedAt = l.startTime.UTC().Format(time.RFC3339)
	}
	if !l.lastEventAt.IsZero() {
		s.LastEventAt = l.lastEventAt.UTC().Format(time.RFC3339)
	}
	if !l.lastMatchAt.IsZero() {
		s.LastMatchAt = l.lastMatchAt.UTC().Format(time.RFC3339)
	}
	return s
}

// ---------------------------------------------------------------------------
// Loop internals (single goroutine)
// ---------------------------------------------------------------------------

// handleEvent applies one filesystem event to the cursor state machine.
func (l *Loop) handleEvent(ctx context.Context, ev dirwatch.Event) {
	l.mu.Lock()
	l.lastEventAt = time.Now()
	l.mu.Unlock()
	l.metricsFSEvent()

	l.logger.Debug("watch: filesystem event",
		slog.String("type", ev.Type.String()),
		slog.String("path", ev.Path),
	)

	switch ev.Type {
	case dirwatch.Modify:
		l.handleModify(ctx)

	case dirwatch.Create:
		l.logger.Info("watch: log file created", slog.String("path", ev.Path))
		if err := l.cur.ReopenFromStart(); err != nil {
			l.logger.Warn("watch: reopen after creation", slog.Any("error", err))
		} else {
			l.metricsFileReopen()
		}

	case dirwatch.Delete:
		l.logger.Info("watch: log file deleted, waiting for it to be re-created",
			slog.String("path", ev.Path))
		l.cur.Reset()

	case dirwatch.MovedAway:
		l.logger.Info("watch: log file moved away, waiting for it to be re-created",
			slog.String("path", ev.Path))
		l.cur.Reset()
	}

	l.publishCursor()
}

// handleModify reads the newly appended lines and fires the action on the
// first match. The rest of the batch is consumed but not scanned: the burst
// that produced it is already being remediated by the one invocation.
func (l *Loop) handleModify(ctx context.Context) {
	if !l.cur.Active() {
		// A modify for a file we never managed to open: the file plainly
		// exists now, so attach from the start rather than lose its content.
		if err := l.cur.ReopenFromStart(); err != nil {
			l.logger.Warn("watch: late attach", slog.Any("error", err))
			return
		}
		l.metricsFileReopen()
		l.logger.Info("watch: attached to log file",
			slog.String("path", l.cur.Path()),
			slog.Int64("offset", 0),
		)
	}

	lines, err := l.cur.ReadNewLines()
	if err != nil {
		l.logger.Warn("watch: read new lines", slog.Any("error", err))
		return
	}
	l.metricsLinesRead(len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, l.id) {
			continue
		}
		if !l.pat.Match(line) {
			continue
		}
		l.fire(ctx, line)
		break
	}
}

// fire runs the action for a matched line, updates the counters, and records
// the trigger when a recorder is attached. Action failures are absorbed here;
// nothing an action does can take the watcher down.
func (l *Loop) fire(ctx context.Context, line string) {
	matchedAt := time.Now()
	l.metricsLineMatched()
	l.logger.Info("watch: event matched",
		slog.String("line", line),
		slog.String("pattern", l.pat.String()),
	)

	l.metricsActionStarted()
	res, err := l.runner.Run(ctx)
	switch {
	case err != nil:
		l.logger.Error("watch: action failed to start", slog.Any("error", err))
		l.metricsActionStartError()
	case res.ExitCode != 0:
		l.metricsActionNonzeroExit()
	}

	l.mu.Lock()
	l.lastMatchAt = matchedAt
	l.actionCount++
	l.lastExitCode = res.ExitCode
	l.mu.Unlock()

	if l.recorder == nil {
		return
	}
	tr := Trigger{
		MatchedLine: line,
		Pattern:     l.pat.String(),
		Command:     l.runner.Command(),
		ExitCode:    res.ExitCode,
		DurationMS:  res.Duration.Milliseconds(),
		MatchedAt:   matchedAt,
	}
	if err := l.recorder.Record(ctx, tr); err != nil {
		l.logger.Warn("watch: record trigger", slog.Any("error", err))
	}
}

// reopenForRotation reopens the file from offset zero after an external
// rotation notice. The rotated-in file may not exist yet; the cursor is then
// left detached and the next create event attaches it.
func (l *Loop) reopenForRotation() {
	l.logger.Info("watch: rotation signalled, reopening from start")
	if err := l.cur.ReopenFromStart(); err != nil {
		l.logger.Warn("watch: reopen after rotation", slog.Any("error", err))
	} else {
		l.metricsFileReopen()
	}
	l.publishCursor()
}

// publishCursor copies the cursor's offset and attachment state into the
// snapshot fields. The cursor itself is confined to the loop goroutine;
// Snapshot readers only ever see these copies.
func (l *Loop) publishCursor() {
	l.mu.Lock()
	l.offset = l.cur.Offset()
	l.active = l.cur.Active()
	l.mu.Unlock()
	l.metricsSetAttached(l.cur.Active())
}

// terminalError reports why the event stream ended.
func (l *Loop) terminalError() error {
	select {
	case err := <-l.dw.Errors():
		return err
	default:
		return errors.New("watch: event stream closed")
	}
}

// ---------------------------------------------------------------------------
// Metrics helpers
// ---------------------------------------------------------------------------
//
// Each helper is a no-op when l.metrics is nil so the hot path costs a single
// nil pointer check.

func (l *Loop) metricsFSEvent() {
	if l.metrics != nil {
		l.metrics.FSEvents.Add(1)
	}
}

func (l *Loop) metricsLinesRead(n int) {
	if l.metrics != nil && n > 0 {
		l.metrics.LinesRead.Add(int64(n))
	}
}

func (l *Loop) metricsLineMatched() {
	if l.metrics != nil {
		l.metrics.LinesMatched.Add(1)
	}
}

func (l *Loop) metricsActionStarted() {
	if l.metrics != nil {
		l.metrics.ActionsStarted.Add(1)
	}
}

func (l *Loop) metricsActionStartError() {
	if l.metrics != nil {
		l.metrics.ActionStartErrors.Add(1)
	}
}

func (l *Loop) metricsActionNonzeroExit() {
	if l.metrics != nil {
		l.metrics.ActionNonzeroExits.Add(1)
	}
}

func (l *Loop) metricsFileReopen() {
	if l.metrics != nil {
		l.metrics.FileReopens.Add(1)
	}
}

func (l *Loop) metricsSetAttached(attached bool) {
	if l.metrics != nil {
		if attached {
			l.metrics.FileAttached.Store(1)
		} else {
			l.metrics.FileAttached.Store(0)
		}
	}
}
