package flamegraph

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danpilch/calltrace/pkg/profile"
)

// WriteFolded writes the graph in folded stack format, one line per path
// with its self time in nanoseconds: "func1;func2;func3 1200".
// Paths without self time are omitted.
func WriteFolded(w io.Writer, g *profile.FlameGraph) error {
	stacks := make(map[string]int64)
	g.Walk(func(path []profile.FunctionKey, n *profile.FlameNode) {
		self := n.Self()
		if self <= 0 {
			return
		}
		names := make([]string, len(path))
		for i, k := range path {
			names[i] = k.Name
		}
		stacks[strings.Join(names, ";")] += int64(self)
	})
	return writeCollapsed(w, stacks)
}

func writeCollapsed(w io.Writer, stacks map[string]int64) error {
	// Sort for deterministic output
	keys := make([]string, 0, len(stacks))
	for k := range stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d\n", k, stacks[k]); err != nil {
			return err
		}
	}
	return nil
}

// ParseFolded reads folded stacks back into a graph. Frames carry names
// only; source locations are not part of the format.
func ParseFolded(r io.Reader) (*profile.FlameGraph, error) {
	g := profile.NewFlameGraph()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, " ")
		if idx <= 0 {
			return nil, fmt.Errorf("line %d: missing value", lineNo)
		}
		count, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value: %w", lineNo, err)
		}
		value := time.Duration(count)

		// Build tree
		node := g.Root
		for _, name := range strings.Split(line[:idx], ";") {
			node = node.Child(profile.FunctionKey{Name: name})
			node.Value += value
		}
		g.Root.Value += value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read folded stacks: %w", err)
	}
	return g, nil
}
