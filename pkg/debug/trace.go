package debug

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danpilch/calltrace/pkg/callstack"
	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/profile"
)

// TraceHook logs every enter and exit event before passing it on.
type TraceHook struct {
	inner hook.Hook

	mu     sync.Mutex
	writer io.Writer
	depth  int
	open   map[callstack.Handle]profile.FunctionKey
}

// NewTraceHook wraps h. A nil writer traces to stderr.
func NewTraceHook(h hook.Hook, w io.Writer) *TraceHook {
	if w == nil {
		w = defaultTraceWriter()
	}
	return &TraceHook{
		inner:  h,
		writer: w,
		open:   make(map[callstack.Handle]profile.FunctionKey),
	}
}

// Enter logs and forwards an enter event.
func (t *TraceHook) Enter(key profile.FunctionKey) callstack.Handle {
	h := t.inner.Enter(key)

	t.mu.Lock()
	defer t.mu.Unlock()
	recorded := "recorded"
	if !h.Valid() {
		recorded = "skipped"
	} else {
		t.open[h] = key
	}
	fmt.Fprintf(t.writer, "[TRACE %s] %s-> %s (%s)\n",
		time.Now().Format("15:04:05.000"), strings.Repeat("  ", t.depth), key, recorded)
	t.depth++
	return h
}

// Exit logs and forwards an exit event.
func (t *TraceHook) Exit(h callstack.Handle) {
	t.mu.Lock()
	if t.depth > 0 {
		t.depth--
	}
	key, ok := t.open[h]
	delete(t.open, h)
	name := "?"
	if ok {
		name = key.String()
	}
	fmt.Fprintf(t.writer, "[TRACE %s] %s<- %s\n",
		time.Now().Format("15:04:05.000"), strings.Repeat("  ", t.depth), name)
	t.mu.Unlock()

	t.inner.Exit(h)
}

// defaultTraceWriter returns stderr for trace output.
func defaultTraceWriter() io.Writer {
	return os.Stderr
}
