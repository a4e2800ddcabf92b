// Package callstack maintains the active call stack of one execution
// context and turns enter/exit events into completed call frames.
package callstack

import (
	"fmt"
	"sync"
	"time"

	"github.com/danpilch/calltrace/pkg/clock"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/recorder"
)

// Handle refers to a frame returned by Enter. It is bound to the stack
// that issued it. The zero Handle is ignored by Exit, which lets filtered
// or disabled hooks skip recording.
type Handle struct {
	stack  *Stack
	id     profile.FrameID
	serial uint64
}

// Valid reports whether the handle refers to a recorded frame.
func (h Handle) Valid() bool {
	return h.stack != nil
}

// Options configures a Stack.
type Options struct {
	Clock    clock.Clock
	Recorder *recorder.Recorder

	// RetainFrames keeps completed call trees instead of releasing the arena
	// once a top-level frame has been recorded. Without it, and when no
	// recorder consumer walks whole trees, a completed nested frame is
	// recycled right after it is recorded and never shows up in its
	// parent's Children.
	RetainFrames bool
}

// Stack is the call stack of a single execution context. Enter and Exit
// must follow LIFO order; violations are reconciled and reported as
// anomalies instead of failing.
//
// Frames live in an arena and refer to each other by index, so parent and
// child links never form ownership cycles.
type Stack struct {
	mu     sync.Mutex
	clock  clock.Clock
	rec    *recorder.Recorder
	retain bool

	arena   []profile.CallFrame
	serials []uint64
	free    []profile.FrameID
	active  []profile.FrameID
	roots   []profile.FrameID
	depth   map[profile.FunctionKey]int
	serial  uint64
}

// New creates an empty stack.
func New(opts Options) *Stack {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Recorder == nil {
		opts.Recorder = recorder.New(nil)
	}
	return &Stack{
		clock:  opts.Clock,
		rec:    opts.Recorder,
		retain: opts.RetainFrames,
		arena:   make([]profile.CallFrame, 0, 64),
		serials: make([]uint64, 0, 64),
		active:  make([]profile.FrameID, 0, 32),
		depth:   make(map[profile.FunctionKey]int),
	}
}

// Enter opens a frame for key as a child of the current top of stack.
func (s *Stack) Enter(key profile.FunctionKey) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := profile.NoFrame
	if n := len(s.active); n > 0 {
		parent = s.active[n-1]
	}

	id := s.alloc()
	f := &s.arena[id]
	f.Key = key
	f.Parent = parent
	f.Recursive = s.depth[key] > 0
	s.depth[key]++

	if parent != profile.NoFrame {
		p := &s.arena[parent]
		p.Children = append(p.Children, id)
	}
	s.active = append(s.active, id)

	s.serial++
	s.serials[id] = s.serial

	// Stamp last so bookkeeping is not charged to the frame.
	f.Start = s.clock.Now()
	return Handle{stack: s, id: id, serial: s.serial}
}

// alloc hands out a free slot, reusing recycled or released slots and
// their children slices. Callers hold mu.
func (s *Stack) alloc() profile.FrameID {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.arena[id] = profile.CallFrame{Children: s.arena[id].Children[:0]}
		return id
	}

	id := profile.FrameID(len(s.arena))
	if len(s.arena) < cap(s.arena) {
		s.arena = s.arena[:id+1]
		s.arena[id] = profile.CallFrame{Children: s.arena[id].Children[:0]}
	} else {
		s.arena = append(s.arena, profile.CallFrame{})
	}
	s.serials = append(s.serials, 0)
	return id
}

// Exit completes the frame referred to by h. Frames opened after h that are
// still on the stack are force-completed first and flagged as truncated.
func (s *Stack) Exit(h Handle) {
	now := s.clock.Now()
	if !h.Valid() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h.stack != s {
		s.rec.Warn(profile.Anomaly{
			Kind:   profile.StackCorruption,
			Detail: "exit with a handle issued by another call stack",
		})
		return
	}

	n := len(s.active)
	if n == 0 {
		s.rec.Warn(profile.Anomaly{
			Kind:   profile.StackCorruption,
			Key:    s.keyOf(h),
			Detail: "exit called on an empty stack",
		})
		return
	}

	if s.active[n-1] != h.id || !s.live(h) {
		if !s.onStack(h) {
			s.rec.Warn(profile.Anomaly{
				Kind:   profile.StackCorruption,
				Key:    s.keyOf(h),
				Detail: "exit for a frame that is not on the stack",
			})
			return
		}
		exiting := s.arena[h.id].Key
		for s.active[len(s.active)-1] != h.id {
			top := s.arena[s.active[len(s.active)-1]].Key
			s.rec.Warn(profile.Anomaly{
				Kind:   profile.StackCorruption,
				Key:    top,
				Detail: fmt.Sprintf("force-completed: exit of %s arrived while it was still open", exiting),
			})
			s.complete(now, profile.FlagTruncated)
		}
	}
	s.complete(now, 0)
}

// Unwind force-completes every open frame at the current time.
func (s *Stack) Unwind() int {
	return s.UnwindAt(s.clock.Now())
}

// UnwindAt force-completes every open frame, top first, stamping each with
// at. It returns the number of frames completed.
func (s *Stack) UnwindAt(at time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for len(s.active) > 0 {
		top := s.arena[s.active[len(s.active)-1]].Key
		s.rec.Warn(profile.Anomaly{
			Kind:   profile.OpenAtStop,
			Key:    top,
			Detail: "frame still open when profiling stopped",
		})
		s.complete(at, profile.FlagTruncated)
		count++
	}
	return count
}

// complete pops the top frame, stamps it and records it. Callers hold mu.
func (s *Stack) complete(at time.Duration, flags profile.FrameFlag) {
	n := len(s.active)
	id := s.active[n-1]
	s.active = s.active[:n-1]

	f := &s.arena[id]
	f.End = at
	f.Flags |= flags

	if f.End < f.Start {
		s.rec.Warn(profile.Anomaly{
			Kind:   profile.ClockNonMonotonic,
			Key:    f.Key,
			Detail: fmt.Sprintf("end observed %v before start", f.Start-f.End),
		})
		f.End = f.Start
		f.Flags |= profile.FlagClockSkew
	}
	if f.ChildTime > f.Duration() {
		s.rec.Warn(profile.Anomaly{
			Kind:   profile.NegativeOwnTime,
			Key:    f.Key,
			Detail: fmt.Sprintf("children took %v longer than the frame", f.ChildTime-f.Duration()),
		})
		f.Flags |= profile.FlagOwnClamped
	}

	if d := s.depth[f.Key]; d <= 1 {
		delete(s.depth, f.Key)
	} else {
		s.depth[f.Key] = d - 1
	}

	root := f.Parent == profile.NoFrame
	if !root {
		s.arena[f.Parent].ChildTime += f.Duration()
	} else if s.retain {
		s.roots = append(s.roots, id)
	}

	s.rec.Record(s, id)

	switch {
	case s.retain:
	case root:
		if len(s.active) == 0 {
			s.release()
		}
	case !s.rec.WalksTrees():
		s.recycle(id)
	}
}

// recycle frees the slot of a completed nested frame. Its duration already
// lives in the parent's ChildTime, and it is always the parent's latest
// child because everything entered after it has completed.
func (s *Stack) recycle(id profile.FrameID) {
	p := &s.arena[s.arena[id].Parent]
	if n := len(p.Children); n > 0 && p.Children[n-1] == id {
		p.Children = p.Children[:n-1]
	}
	s.free = append(s.free, id)
}

// release drops all completed frames. Serials keep increasing, so handles
// from before the release never match a reused slot.
func (s *Stack) release() {
	s.arena = s.arena[:0]
	s.serials = s.serials[:0]
	s.free = s.free[:0]
}

// live reports whether h still names the frame occupying its slot.
func (s *Stack) live(h Handle) bool {
	return int(h.id) < len(s.serials) && s.serials[h.id] == h.serial
}

func (s *Stack) onStack(h Handle) bool {
	if !s.live(h) {
		return false
	}
	for i := len(s.active) - 1; i >= 0; i-- {
		if s.active[i] == h.id {
			return true
		}
	}
	return false
}

func (s *Stack) keyOf(h Handle) profile.FunctionKey {
	if s.live(h) {
		return s.arena[h.id].Key
	}
	return profile.FunctionKey{}
}

// Frame implements profile.Tree. It is meant for consumers called from
// Record, which already run under the stack's lock.
func (s *Stack) Frame(id profile.FrameID) *profile.CallFrame {
	return &s.arena[id]
}

// Depth returns the number of open frames.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Retained returns a copy of the completed call trees kept with
// RetainFrames. It is empty otherwise.
func (s *Stack) Retained() *profile.CallTree {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &profile.CallTree{}
	if !s.retain {
		return t
	}
	t.Roots = append(t.Roots, s.roots...)
	t.Frames = make([]profile.CallFrame, len(s.arena))
	for i, f := range s.arena {
		f.Children = append([]profile.FrameID(nil), f.Children...)
		t.Frames[i] = f
	}
	return t
}

// Reset discards all frames, open or completed, without recording them.
func (s *Stack) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.active[:0]
	s.roots = s.roots[:0]
	for k := range s.depth {
		delete(s.depth, k)
	}
	s.release()
}
