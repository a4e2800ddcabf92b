package profile

import "time"

// FrameID addresses a CallFrame inside the arena of the stack that owns it.
type FrameID int32

// NoFrame is the parent of a top-level frame.
const NoFrame FrameID = -1

// FrameFlag marks a frame whose timing needed correction.
type FrameFlag uint8

const (
	// FlagTruncated marks a frame force-completed during stack reconciliation
	// or when the session stopped while it was still open.
	FlagTruncated FrameFlag = 1 << iota
	// FlagClockSkew marks a frame whose end was observed before its start.
	FlagClockSkew
	// FlagOwnClamped marks a frame whose children outlasted it.
	FlagOwnClamped
)

// CallFrame is one invocation of a function.
type CallFrame struct {
	Key      FunctionKey
	Start    time.Duration
	End      time.Duration
	Parent   FrameID
	Children []FrameID

	// ChildTime is the sum of durations of completed direct children.
	ChildTime time.Duration
	Flags     FrameFlag

	// Recursive is set when another activation of the same key was already
	// open when this frame was entered.
	Recursive bool
}

// Duration returns the inclusive time of the frame. It is zero until the
// frame completes.
func (f *CallFrame) Duration() time.Duration {
	if f.End < f.Start {
		return 0
	}
	return f.End - f.Start
}

// OwnTime returns the exclusive time of the frame, clamped at zero.
func (f *CallFrame) OwnTime() time.Duration {
	own := f.Duration() - f.ChildTime
	if own < 0 {
		return 0
	}
	return own
}

// IsRoot reports whether the frame has no enclosing frame.
func (f *CallFrame) IsRoot() bool {
	return f.Parent == NoFrame
}

// Has reports whether flag is set.
func (f *CallFrame) Has(flag FrameFlag) bool {
	return f.Flags&flag != 0
}

// Tree gives read-only access to frames by id. Consumers must not mutate
// the frames they are handed.
type Tree interface {
	Frame(id FrameID) *CallFrame
}

// CallTree is a detached copy of completed call trees.
type CallTree struct {
	Frames []CallFrame
	Roots  []FrameID
}

// Frame implements Tree.
func (t *CallTree) Frame(id FrameID) *CallFrame {
	return &t.Frames[id]
}

// Walk visits every frame below root depth-first in call order.
func (t *CallTree) Walk(root FrameID, fn func(f *CallFrame, depth int)) {
	var visit func(id FrameID, depth int)
	visit = func(id FrameID, depth int) {
		f := &t.Frames[id]
		fn(f, depth)
		for _, c := range f.Children {
			visit(c, depth+1)
		}
	}
	visit(root, 0)
}
