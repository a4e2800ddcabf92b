// Package session ties the profiling engine together. A Session owns the
// clock, recorder and consumers for one measurement and hands out call
// stacks to the execution contexts being observed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/calltrace/pkg/callstack"
	"github.com/danpilch/calltrace/pkg/clock"
	"github.com/danpilch/calltrace/pkg/flamegraph"
	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/recorder"
	"github.com/danpilch/calltrace/pkg/stats"
)

var (
	ErrRunning    = errors.New("session is already running")
	ErrNotRunning = errors.New("session is not running")
)

// PanicError is returned by Run when the profiled function panicked. The
// result returned with it covers every call up to the panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("profiled function panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Profiler is the lifecycle shared by the call profiler and the memory
// tracker.
type Profiler interface {
	Start() error
	Stop() error
	Report(w io.Writer) error
}

// Options configures a Session.
type Options struct {
	// CaptureFlame builds a flame graph alongside the statistics.
	CaptureFlame bool
	// RetainFrames keeps the raw call trees for trace export.
	RetainFrames bool
	Clock        clock.Clock
	Logger       *logrus.Logger
	Filter       *hook.Filter
}

// Result is the outcome of a stopped session.
type Result struct {
	ID        string
	Stats     profile.ProfilerStats
	Flame     *profile.FlameGraph
	Anomalies []profile.Anomaly
	Duration  time.Duration
	Roots     int
	// Trees holds the retained call trees of every context.
	Trees []*profile.CallTree
}

// Session is an explicit profiling session. The zero value is not usable;
// create sessions with New.
type Session struct {
	ID string

	opts    Options
	clock   clock.Clock
	logger  *logrus.Logger
	rec     *recorder.Recorder
	agg     *stats.Aggregator
	builder *flamegraph.Builder
	main    *callstack.Stack
	hook    hook.Hook

	enabled   atomic.Bool
	recording atomic.Bool

	mu       sync.Mutex
	running  bool
	started  time.Duration
	ended    time.Duration
	contexts []*callstack.Stack
	result   *Result
}

// New creates a session. It does not start recording.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}

	s := &Session{
		ID:     uuid.NewString(),
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		rec:    recorder.New(opts.Logger),
		agg:    stats.NewAggregator(),
	}
	s.rec.Attach(s.agg)
	if opts.CaptureFlame {
		s.builder = flamegraph.NewBuilder()
		s.rec.AttachRoots(s.builder)
	}
	s.main = s.newStack()
	s.hook = hook.Filtered(s.main, opts.Filter)
	s.enabled.Store(true)
	return s
}

func (s *Session) newStack() *callstack.Stack {
	st := callstack.New(callstack.Options{
		Clock:        s.clock,
		Recorder:     s.rec,
		RetainFrames: s.opts.RetainFrames,
	})
	s.contexts = append(s.contexts, st)
	return st
}

// Start begins recording.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.running = true
	s.result = nil
	s.started = s.clock.Now()
	s.recording.Store(true)
	s.logger.WithField("session", s.ID).Debug("profiling started")
	return nil
}

// Stop force-completes every open frame, stamped with the stop time, and
// freezes the result.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	s.running = false
	s.recording.Store(false)
	s.ended = s.clock.Now()

	open := 0
	for _, st := range s.contexts {
		open += st.UnwindAt(s.ended)
	}
	s.result = s.collect()

	s.logger.WithFields(logrus.Fields{
		"session":   s.ID,
		"functions": s.result.Stats.Len(),
		"frames":    s.rec.Frames(),
		"open":      open,
		"anomalies": len(s.result.Anomalies),
	}).Debug("profiling stopped")
	return nil
}

// collect builds the result. Callers hold mu.
func (s *Session) collect() *Result {
	r := &Result{
		ID:        s.ID,
		Stats:     s.agg.Snapshot(),
		Anomalies: s.rec.Anomalies(),
		Duration:  s.ended - s.started,
	}
	r.Stats.Anomalies = r.Anomalies
	r.Roots = r.Stats.Roots
	if s.builder != nil {
		r.Flame = s.builder.Build()
	}
	if s.opts.RetainFrames {
		for _, st := range s.contexts {
			r.Trees = append(r.Trees, st.Retained())
		}
	}
	return r
}

// Running reports whether the session is recording.
func (s *Session) Running() bool {
	return s.recording.Load()
}

func (s *Session) accepting() bool {
	return s.recording.Load() && s.enabled.Load()
}

// SetEnabled pauses or resumes recording without stopping the session.
// Calls entered while disabled are not recorded.
func (s *Session) SetEnabled(on bool) {
	s.enabled.Store(on)
}

// Enabled reports whether Enter records calls.
func (s *Session) Enabled() bool {
	return s.enabled.Load()
}

// Enter implements hook.Hook on the session's main context.
func (s *Session) Enter(key profile.FunctionKey) callstack.Handle {
	if !s.accepting() {
		return callstack.Handle{}
	}
	return s.hook.Enter(key)
}

// Exit implements hook.Hook on the session's main context. Exits arriving
// after Stop are dropped; Stop already completed their frames.
func (s *Session) Exit(h callstack.Handle) {
	if !s.recording.Load() {
		return
	}
	s.hook.Exit(h)
}

// Track enters key on the main context and returns the deferred exit.
func (s *Session) Track(key profile.FunctionKey) func() {
	return hook.Track(s, key)
}

// NewContext returns a hook for another goroutine. Each goroutine must use
// its own context; all contexts feed the same statistics.
func (s *Session) NewContext() hook.Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &execContext{s: s, h: hook.Filtered(s.newStack(), s.opts.Filter)}
}

type execContext struct {
	s *Session
	h hook.Hook
}

func (c *execContext) Enter(key profile.FunctionKey) callstack.Handle {
	if !c.s.accepting() {
		return callstack.Handle{}
	}
	return c.h.Enter(key)
}

func (c *execContext) Exit(h callstack.Handle) {
	if !c.s.recording.Load() {
		return
	}
	c.h.Exit(h)
}

// Result returns the result of the last stop.
func (s *Session) Result() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		if s.running {
			return nil, ErrRunning
		}
		return nil, ErrNotRunning
	}
	return s.result, nil
}

// Stats returns a live snapshot of the statistics.
func (s *Session) Stats() profile.ProfilerStats {
	p := s.agg.Snapshot()
	p.Anomalies = s.rec.Anomalies()
	return p
}

// Reset discards all recorded data so the session can be started again.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	for _, st := range s.contexts {
		st.Reset()
	}
	s.agg.Reset()
	if s.builder != nil {
		s.builder.Reset()
	}
	s.rec.Reset()
	s.result = nil
	return nil
}

// Report writes a plain text summary of the last result.
func (s *Session) Report(w io.Writer) error {
	r, err := s.Result()
	if err != nil {
		return err
	}
	return r.WriteText(w, stats.SortTotal, 0)
}

// WriteText writes the ranked statistics as aligned text.
func (r *Result) WriteText(w io.Writer, by stats.SortKey, top int) error {
	if _, err := fmt.Fprintf(w, "session %s: %d functions, %d top-level calls, %v total\n",
		r.ID, r.Stats.Len(), r.Roots, r.Stats.TotalTime); err != nil {
		return err
	}
	for _, fs := range stats.Top(r.Stats, by, top) {
		if _, err := fmt.Fprintf(w, "%8d  %12v  %12v  %6.2f%%  %s\n",
			fs.Calls, fs.TotalTime, fs.OwnTime, fs.Percentage, fs.Key); err != nil {
			return err
		}
	}
	for _, a := range r.Anomalies {
		if _, err := fmt.Fprintf(w, "warning: %s\n", a); err != nil {
			return err
		}
	}
	return nil
}

// Run profiles fn in a fresh session and returns the result. The session
// is stopped on every exit path. If fn panics, the panic is recovered and
// returned as a *PanicError next to the result.
func Run(opts Options, fn func(h hook.Hook) error) (*Result, error) {
	return RunContext(context.Background(), opts, func(_ context.Context, h hook.Hook) error {
		return fn(h)
	})
}

// RunContext is Run with a context. Once ctx is done no new calls are
// recorded; the result covers what was entered until then and the
// context's error is returned if fn itself succeeded.
func RunContext(ctx context.Context, opts Options, fn func(ctx context.Context, h hook.Hook) error) (*Result, error) {
	s := New(opts)
	if err := s.Start(); err != nil {
		return nil, err
	}

	var expired atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			expired.Store(true)
			s.SetEnabled(false)
			s.logger.WithField("session", s.ID).Warn("deadline reached, recording disabled")
		case <-done:
		}
	}()

	var fnErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.WithFields(logrus.Fields{
					"session": s.ID,
					"panic":   p,
				}).Error("profiled function panicked")
				fnErr = &PanicError{Value: p, Stack: debug.Stack()}
			}
		}()
		fnErr = fn(ctx, s)
	}()

	if err := s.Stop(); err != nil {
		return nil, err
	}
	res, err := s.Result()
	if err != nil {
		return nil, err
	}
	if fnErr == nil && expired.Load() {
		fnErr = ctx.Err()
	}
	return res, fnErr
}
