package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/baseline"
)

// execute runs the CLI with an isolated config and profiles directory.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CALLTRACE_CONFIG", filepath.Join(dir, "config.yaml"))
	t.Setenv("CALLTRACE_PROFILES_DIR", filepath.Join(dir, "profiles"))

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCSV(t *testing.T) {
	out, err := execute(t, t.TempDir(), "run", "sum", "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "function,calls,total_time,own_time,percentage", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "workload.sum (workload.go:2),1,"), lines[1])
}

func TestRunUnknownWorkload(t *testing.T) {
	_, err := execute(t, t.TempDir(), "run", "nope")
	assert.ErrorContains(t, err, "unknown workload")
}

func TestRunRejectsBadFormat(t *testing.T) {
	_, err := execute(t, t.TempDir(), "run", "sum", "--format", "xml")
	assert.Error(t, err)
}

func TestSaveListCompare(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "run", "fib", "--save", "--label", "a")
	require.NoError(t, err)
	_, err = execute(t, dir, "run", "fib", "--save", "--label", "b", "--memory")
	require.NoError(t, err)

	names, err := baseline.List(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.FileExists(t, filepath.Join(dir, "profiles", names[0]+".txt"))

	snap, err := baseline.Load(names[1], filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	assert.Equal(t, "fib", snap.Metadata["workload"])
	assert.NotNil(t, snap.Memory)
	assert.NotNil(t, snap.Flame)

	out, err := execute(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, names[0])
	assert.Contains(t, out, names[1])

	out, err = execute(t, dir, "compare", names[0], names[1], "--paths")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile Comparison")
	assert.Contains(t, out, "workload.fib")
}

func TestFlamegraphFolded(t *testing.T) {
	out, err := execute(t, t.TempDir(), "flamegraph", "loop", "--type", "folded")
	require.NoError(t, err)
	assert.Contains(t, out, "workload.loop;workload.leaf ")
}

func TestFlamegraphSVGToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested.svg")
	_, err := execute(t, dir, "flamegraph", "nested", "-o", path)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestFlamegraphNeedsOneSource(t *testing.T) {
	_, err := execute(t, t.TempDir(), "flamegraph")
	assert.ErrorContains(t, err, "exactly one")
}

func TestTraceEvents(t *testing.T) {
	out, err := execute(t, t.TempDir(), "trace-events", "nested")
	require.NoError(t, err)
	var doc struct {
		TraceEvents []map[string]any `json:"traceEvents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.TraceEvents, 52)
}

func TestCheck(t *testing.T) {
	out, err := execute(t, t.TempDir(), "check", "mixed")
	require.NoError(t, err)
	assert.Contains(t, out, "sanity checks passed")
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, t.TempDir(), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "capture_flame: true")
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))

	_, err = execute(t, dir, "config", "init")
	assert.ErrorContains(t, err, "already exists")
}
