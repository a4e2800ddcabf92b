package mcpserver

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/baseline"
	"github.com/danpilch/calltrace/pkg/clock"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/session"
)

func key(name string) profile.FunctionKey {
	return profile.FunctionKey{Name: name, File: name + ".go", Line: 1}
}

// record saves a profile in which work takes workTime ticks under main.
func record(t *testing.T, dir, name string, workTime time.Duration) {
	t.Helper()
	clk := clock.NewManual(0)
	s := session.New(session.Options{CaptureFlame: true, Clock: clk})
	require.NoError(t, s.Start())
	m := s.Enter(key("main"))
	clk.Advance(10)
	w := s.Enter(key("work"))
	clk.Advance(workTime)
	s.Exit(w)
	s.Exit(m)
	require.NoError(t, s.Stop())
	res, err := s.Result()
	require.NoError(t, err)

	snap := baseline.NewSnapshot(name, res.Stats, res.Flame)
	snap.Metadata = map[string]string{"workload": "test"}
	require.NoError(t, snap.Save(dir))
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func TestListProfiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	out, isErr := call(t, s.handleListProfiles, nil)
	assert.False(t, isErr)
	assert.Contains(t, out, "No saved profiles")

	record(t, dir, "first", 30)
	record(t, dir, "second", 60)
	out, _ = call(t, s.handleListProfiles, nil)
	assert.Equal(t, "first\nsecond", out)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	record(t, dir, "run", 30)
	s := New(dir, nil)

	out, isErr := call(t, s.handleLoadProfile, map[string]any{"name": "run"})
	require.False(t, isErr, out)
	assert.Contains(t, out, "Profile loaded: run")
	assert.Contains(t, out, "Functions:       2")
	assert.Contains(t, out, "Calls:           2")
	assert.Contains(t, out, "workload: test")

	out, isErr = call(t, s.handleLoadProfile, map[string]any{"name": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, out, "not found")

	_, isErr = call(t, s.handleLoadProfile, map[string]any{})
	assert.True(t, isErr)
}

func TestFindHotspots(t *testing.T) {
	dir := t.TempDir()
	record(t, dir, "run", 30)
	s := New(dir, nil)

	out, isErr := call(t, s.handleFindHotspots, map[string]any{"name": "run", "top_n": float64(1)})
	require.False(t, isErr, out)
	assert.Contains(t, out, "TOP FUNCTIONS BY TOTAL")
	assert.Contains(t, out, "#1: main")
	assert.NotContains(t, out, "#2:")

	out, isErr = call(t, s.handleFindHotspots, map[string]any{"name": "run", "sort": "own"})
	require.False(t, isErr, out)
	assert.Contains(t, out, "#1: work")
	assert.Contains(t, out, "#2: main")

	_, isErr = call(t, s.handleFindHotspots, map[string]any{"name": "run", "sort": "bogus"})
	assert.True(t, isErr)
}

func TestFlamePaths(t *testing.T) {
	dir := t.TempDir()
	record(t, dir, "run", 30)
	s := New(dir, nil)

	out, isErr := call(t, s.handleFlamePaths, map[string]any{"name": "run"})
	require.False(t, isErr, out)
	assert.Contains(t, out, "#1: main;work")
	assert.Contains(t, out, "#2: main")
	assert.Contains(t, out, "75.00%")
}

func TestCompareProfiles(t *testing.T) {
	dir := t.TempDir()
	record(t, dir, "before", 30)
	record(t, dir, "after", 90)
	s := New(dir, nil)

	out, isErr := call(t, s.handleCompareProfiles, map[string]any{"baseline": "before", "current": "after"})
	require.False(t, isErr, out)
	assert.Contains(t, out, "Profile Comparison")
	assert.Contains(t, out, "REGRESSION")
	assert.Contains(t, out, "main;work")
}
