// Package recorder distributes completed call frames to the consumers that
// aggregate them.
package recorder

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/calltrace/pkg/profile"
)

// Consumer receives completed frames. The tree is only valid for the
// duration of the call.
type Consumer interface {
	Ingest(tree profile.Tree, id profile.FrameID)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(tree profile.Tree, id profile.FrameID)

// Ingest calls f.
func (f ConsumerFunc) Ingest(tree profile.Tree, id profile.FrameID) {
	f(tree, id)
}

// Recorder fans completed frames out to every attached consumer, in exit
// order, and keeps the anomaly log for the session.
type Recorder struct {
	consumers []Consumer
	roots     []Consumer

	frames atomic.Int64

	mu        sync.Mutex
	anomalies []profile.Anomaly
	logger    *logrus.Logger
}

// New creates a recorder. A nil logger logs warnings to stderr.
func New(logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Recorder{logger: logger}
}

// Attach registers a consumer for every completed frame. Consumers must be
// attached before recording starts.
func (r *Recorder) Attach(c Consumer) {
	r.consumers = append(r.consumers, c)
}

// AttachRoots registers a consumer that only receives top-level frames and
// walks their children itself.
func (r *Recorder) AttachRoots(c Consumer) {
	r.roots = append(r.roots, c)
}

// WalksTrees reports whether a consumer reads the children of top-level
// frames, which keeps completed frames alive until their root completes.
func (r *Recorder) WalksTrees() bool {
	return len(r.roots) > 0
}

// Record hands a completed frame to the consumers.
func (r *Recorder) Record(tree profile.Tree, id profile.FrameID) {
	r.frames.Add(1)
	for _, c := range r.consumers {
		c.Ingest(tree, id)
	}
	if len(r.roots) == 0 || !tree.Frame(id).IsRoot() {
		return
	}
	for _, c := range r.roots {
		c.Ingest(tree, id)
	}
}

// Warn logs an anomaly and keeps it for the final report.
func (r *Recorder) Warn(a profile.Anomaly) {
	r.mu.Lock()
	r.anomalies = append(r.anomalies, a)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"kind":     a.Kind,
		"function": a.Key.String(),
	}).Warn(a.Detail)
}

// Anomalies returns a copy of the anomaly log.
func (r *Recorder) Anomalies() []profile.Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]profile.Anomaly, len(r.anomalies))
	copy(out, r.anomalies)
	return out
}

// Frames returns the number of frames recorded so far.
func (r *Recorder) Frames() int64 {
	return r.frames.Load()
}

// Reset clears the anomaly log and frame count. Consumers stay attached.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.anomalies = nil
	r.mu.Unlock()
	r.frames.Store(0)
}
