// Package hook connects Go code to the profiler. Instrumented functions
// open a frame on entry and close it on every exit path:
//
//	func work(h hook.Hook) {
//		defer hook.Track(h, hook.Caller(0))()
//		...
//	}
package hook

import (
	"reflect"
	"runtime"

	"github.com/danpilch/calltrace/pkg/callstack"
	"github.com/danpilch/calltrace/pkg/profile"
)

// Hook receives enter and exit events. *callstack.Stack and
// *session.Session implement it.
type Hook interface {
	Enter(key profile.FunctionKey) callstack.Handle
	Exit(h callstack.Handle)
}

// KeyOf derives a FunctionKey from a function value. It returns the zero
// key for nil or non-function values.
func KeyOf(fn any) profile.FunctionKey {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return profile.FunctionKey{}
	}
	return keyForPC(v.Pointer())
}

// Caller returns the key of the function skip frames above the caller of
// Caller. Caller(0) identifies the function that calls it.
func Caller(skip int) profile.FunctionKey {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return profile.FunctionKey{Name: "unknown"}
	}
	return keyForPC(pc)
}

// keyForPC keys on the function's entry point so that every call site
// inside a function maps to the same key.
func keyForPC(pc uintptr) profile.FunctionKey {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return profile.FunctionKey{Name: "unknown"}
	}
	file, line := fn.FileLine(fn.Entry())
	return profile.FunctionKey{Name: fn.Name(), File: file, Line: line}
}

// Track enters key and returns the matching exit, meant to be deferred.
func Track(h Hook, key profile.FunctionKey) func() {
	handle := h.Enter(key)
	return func() { h.Exit(handle) }
}

// Do runs fn inside a frame for key. The frame is closed even if fn
// panics; the panic continues to propagate.
func Do(h Hook, key profile.FunctionKey, fn func()) {
	defer Track(h, key)()
	fn()
}

// Call runs fn inside a frame for key and returns its results.
func Call[T any](h Hook, key profile.FunctionKey, fn func() (T, error)) (T, error) {
	defer Track(h, key)()
	return fn()
}

// Wrap returns fn instrumented under its own key.
func Wrap(h Hook, fn func()) func() {
	key := KeyOf(fn)
	return func() { Do(h, key, fn) }
}

type nop struct{}

func (nop) Enter(profile.FunctionKey) callstack.Handle { return callstack.Handle{} }
func (nop) Exit(callstack.Handle)                      {}

// Nop records nothing. It measures the cost of instrumented code without
// a profiler attached.
var Nop Hook = nop{}
