package profile

import (
	"encoding/json"
	"sort"
	"time"
)

// FlameNode is one call path in a flame graph. Repeated and recursive calls
// reaching the same path share a node.
type FlameNode struct {
	Key      FunctionKey
	Value    time.Duration
	Children map[FunctionKey]*FlameNode
}

// NewFlameNode creates an empty node.
func NewFlameNode(key FunctionKey) *FlameNode {
	return &FlameNode{
		Key:      key,
		Children: make(map[FunctionKey]*FlameNode),
	}
}

// Child returns the child for key, creating it when absent.
func (n *FlameNode) Child(key FunctionKey) *FlameNode {
	c, ok := n.Children[key]
	if !ok {
		c = NewFlameNode(key)
		n.Children[key] = c
	}
	return c
}

// Self returns the value not attributed to any child, clamped at zero.
func (n *FlameNode) Self() time.Duration {
	self := n.Value
	for _, c := range n.Children {
		self -= c.Value
	}
	if self < 0 {
		return 0
	}
	return self
}

// SortedChildren returns the children in key order, for deterministic output.
func (n *FlameNode) SortedChildren() []*FlameNode {
	out := make([]*FlameNode, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Less(out[j].Key)
	})
	return out
}

// Clone returns a deep copy of the subtree.
func (n *FlameNode) Clone() *FlameNode {
	c := &FlameNode{
		Key:      n.Key,
		Value:    n.Value,
		Children: make(map[FunctionKey]*FlameNode, len(n.Children)),
	}
	for k, child := range n.Children {
		c.Children[k] = child.Clone()
	}
	return c
}

// FlameGraph is a path-keyed tree rooted at RootKey.
type FlameGraph struct {
	Root *FlameNode
}

// NewFlameGraph returns an empty graph.
func NewFlameGraph() *FlameGraph {
	return &FlameGraph{Root: NewFlameNode(RootKey)}
}

// Find follows path from the root and returns the node at its end.
func (g *FlameGraph) Find(path ...FunctionKey) (*FlameNode, bool) {
	n := g.Root
	for _, k := range path {
		c, ok := n.Children[k]
		if !ok {
			return nil, false
		}
		n = c
	}
	return n, true
}

// Depth returns the length of the longest path below the root.
func (g *FlameGraph) Depth() int {
	return depth(g.Root)
}

func depth(n *FlameNode) int {
	max := 0
	for _, c := range n.Children {
		if d := depth(c) + 1; d > max {
			max = d
		}
	}
	return max
}

// Walk visits every node below the root in depth-first, key order. path
// excludes the root and includes the visited node.
func (g *FlameGraph) Walk(fn func(path []FunctionKey, n *FlameNode)) {
	var visit func(path []FunctionKey, n *FlameNode)
	visit = func(path []FunctionKey, n *FlameNode) {
		for _, c := range n.SortedChildren() {
			p := append(path[:len(path):len(path)], c.Key)
			fn(p, c)
			visit(p, c)
		}
	}
	visit(nil, g.Root)
}

// flameJSON is the generic nested-node schema used by flame graph viewers.
// Values are nanoseconds.
type flameJSON struct {
	Name     string       `json:"name"`
	File     string       `json:"file,omitempty"`
	Line     int          `json:"line,omitempty"`
	Value    int64        `json:"value"`
	Children []*FlameNode `json:"children"`
}

// MarshalJSON renders the node as {name, value, children: [...]}.
func (n *FlameNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(flameJSON{
		Name:     n.Key.Name,
		File:     n.Key.File,
		Line:     n.Key.Line,
		Value:    int64(n.Value),
		Children: n.SortedChildren(),
	})
}

// UnmarshalJSON reads the schema written by MarshalJSON. Siblings with the
// same key are merged.
func (n *FlameNode) UnmarshalJSON(data []byte) error {
	var aux flameJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n.Key = FunctionKey{Name: aux.Name, File: aux.File, Line: aux.Line}
	n.Value = time.Duration(aux.Value)
	n.Children = make(map[FunctionKey]*FlameNode, len(aux.Children))
	for _, c := range aux.Children {
		if c == nil {
			continue
		}
		if prev, ok := n.Children[c.Key]; ok {
			prev.merge(c)
			continue
		}
		n.Children[c.Key] = c
	}
	return nil
}

func (n *FlameNode) merge(o *FlameNode) {
	n.Value += o.Value
	for k, c := range o.Children {
		if prev, ok := n.Children[k]; ok {
			prev.merge(c)
		} else {
			n.Children[k] = c
		}
	}
}

// MarshalJSON renders the graph as its root node.
func (g *FlameGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Root)
}

// UnmarshalJSON reads a graph written by MarshalJSON.
func (g *FlameGraph) UnmarshalJSON(data []byte) error {
	root := NewFlameNode(RootKey)
	if err := json.Unmarshal(data, root); err != nil {
		return err
	}
	g.Root = root
	return nil
}
