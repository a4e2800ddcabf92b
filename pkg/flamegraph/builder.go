// Package flamegraph folds observed call trees into flame graphs and
// renders them as folded stacks, SVG, JSON and pprof profiles.
package flamegraph

import (
	"sync"

	"github.com/danpilch/calltrace/pkg/profile"
)

type step struct {
	id     profile.FrameID
	parent *profile.FlameNode
}

// Builder merges call trees into a single path-keyed graph. Calls reaching
// the same path, whether from a loop or from recursion, share one node.
type Builder struct {
	mu    sync.Mutex
	graph *profile.FlameGraph
	work  []step
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{graph: profile.NewFlameGraph()}
}

// Ingest walks the tree below a top-level frame and adds every frame's
// duration to the node for its path.
func (b *Builder) Ingest(tree profile.Tree, id profile.FrameID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.graph.Root.Value += tree.Frame(id).Duration()

	b.work = append(b.work[:0], step{id: id, parent: b.graph.Root})
	for len(b.work) > 0 {
		st := b.work[len(b.work)-1]
		b.work = b.work[:len(b.work)-1]

		f := tree.Frame(st.id)
		node := st.parent.Child(f.Key)
		node.Value += f.Duration()

		for i := len(f.Children) - 1; i >= 0; i-- {
			b.work = append(b.work, step{id: f.Children[i], parent: node})
		}
	}
}

// IngestTree adds every root of a detached call tree.
func (b *Builder) IngestTree(t *profile.CallTree) {
	for _, root := range t.Roots {
		b.Ingest(t, root)
	}
}

// Build returns a copy of the graph built so far.
func (b *Builder) Build() *profile.FlameGraph {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &profile.FlameGraph{Root: b.graph.Root.Clone()}
}

// Reset discards the graph.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.graph = profile.NewFlameGraph()
}
