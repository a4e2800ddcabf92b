// Package mcpserver exposes saved call profiles to AI assistants over the
// Model Context Protocol.
package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/calltrace/pkg/baseline"
	"github.com/danpilch/calltrace/pkg/flamegraph"
	"github.com/danpilch/calltrace/pkg/output"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/stats"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Server serves the profiles stored in one directory.
type Server struct {
	dir    string
	logger *logrus.Logger
	mcp    *server.MCPServer

	mu     sync.Mutex
	loaded map[string]*baseline.Snapshot
}

// New creates a server reading profiles from dir and registers its tools.
func New(dir string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	s := &Server{
		dir:    dir,
		logger: logger,
		loaded: make(map[string]*baseline.Snapshot),
		mcp: server.NewMCPServer(
			"calltrace",
			Version,
			server.WithToolCapabilities(false),
			server.WithLogging(),
		),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves requests on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.WithField("dir", s.dir).Info("serving MCP on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_profiles",
		mcp.WithDescription("List the saved call profiles available for analysis."),
	), s.handleListProfiles)

	s.mcp.AddTool(mcp.NewTool("load_profile",
		mcp.WithDescription("Load a saved call profile and summarise it. Other tools load profiles on demand, so this is optional."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Saved profile name as returned by list_profiles"),
		),
	), s.handleLoadProfile)

	s.mcp.AddTool(mcp.NewTool("find_hotspots",
		mcp.WithDescription("Rank the functions of a profile by inclusive time, own time, call count, name or average time, with drill-down suggestions for the heaviest ones."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Saved profile name"),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Number of functions to return (default: 10)"),
		),
		mcp.WithString("sort",
			mcp.Description("Sort key: total, own, calls, name or avg (default: total)"),
			mcp.Enum("total", "own", "calls", "name", "avg"),
		),
	), s.handleFindHotspots)

	s.mcp.AddTool(mcp.NewTool("flame_paths",
		mcp.WithDescription("List the heaviest call paths of a profile's flame graph by self time."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Saved profile name"),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Number of paths to return (default: 10)"),
		),
	), s.handleFlamePaths)

	s.mcp.AddTool(mcp.NewTool("compare_profiles",
		mcp.WithDescription("Compare two saved profiles function by function and report time drift."),
		mcp.WithString("baseline",
			mcp.Required(),
			mcp.Description("Saved profile to compare against"),
		),
		mcp.WithString("current",
			mcp.Required(),
			mcp.Description("Saved profile to compare"),
		),
	), s.handleCompareProfiles)
}

func (s *Server) load(name string) (*baseline.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.loaded[name]; ok {
		return snap, nil
	}
	snap, err := baseline.Load(name, s.dir)
	if err != nil {
		return nil, err
	}
	s.loaded[name] = snap
	s.logger.WithField("profile", name).Debug("profile loaded")
	return snap, nil
}

func topN(req mcp.CallToolRequest) int {
	n := int(req.GetFloat("top_n", 10))
	if n < 1 {
		return 10
	}
	return n
}

func (s *Server) handleListProfiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := baseline.List(s.dir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot list profiles: %v", err)), nil
	}
	if len(names) == 0 {
		return mcp.NewToolResultText("No saved profiles. Record one with `calltrace demo --save`."), nil
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) handleLoadProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.load(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load profile: %v", err)), nil
	}

	calls := 0
	for _, fs := range snap.Stats.Functions {
		calls += fs.Calls
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Profile loaded: %s\n\n", snap.Name)
	fmt.Fprintf(&sb, "Recorded:        %s on %s\n", snap.Timestamp.Format("2006-01-02 15:04:05"), snap.Hostname)
	fmt.Fprintf(&sb, "Top-level time:  %s\n", output.HumanDuration(snap.Stats.TotalTime))
	fmt.Fprintf(&sb, "Top-level calls: %d\n", snap.Stats.Roots)
	fmt.Fprintf(&sb, "Functions:       %d\n", snap.Stats.Len())
	fmt.Fprintf(&sb, "Calls:           %d\n", calls)
	fmt.Fprintf(&sb, "Anomalies:       %d\n", len(snap.Stats.Anomalies))
	fmt.Fprintf(&sb, "Quality:         %d/100 (%s)\n", output.QualityScore(snap.Stats), output.ScoreLabel(output.QualityScore(snap.Stats)))
	if snap.Flame != nil {
		fmt.Fprintf(&sb, "Flame depth:     %d\n", snap.Flame.Depth())
	}
	if len(snap.Metadata) > 0 {
		keys := make([]string, 0, len(snap.Metadata))
		for k := range snap.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nMetadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, snap.Metadata[k])
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleFindHotspots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	by, err := stats.ParseSortKey(req.GetString("sort", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.load(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load profile: %v", err)), nil
	}

	rows := stats.Top(snap.Stats, by, topN(req))
	var sb strings.Builder
	fmt.Fprintf(&sb, "TOP FUNCTIONS BY %s\n", strings.ToUpper(string(by)))
	sb.WriteString("═══════════════════════════════════════════════════\n\n")
	if len(rows) == 0 {
		sb.WriteString("No calls recorded.\n")
		return mcp.NewToolResultText(sb.String()), nil
	}
	for i, fs := range rows {
		fmt.Fprintf(&sb, "#%d: %s\n", i+1, fs.Key.Name)
		fmt.Fprintf(&sb, "    Total: %s (%.2f%%)  Own: %s\n",
			output.HumanDuration(fs.TotalTime), fs.Percentage, output.HumanDuration(fs.OwnTime))
		fmt.Fprintf(&sb, "    Calls: %d  Avg: %s\n", fs.Calls, output.HumanDuration(fs.AvgTime()))
		if fs.Key.File != "" {
			fmt.Fprintf(&sb, "    Source: %s:%d\n", fs.Key.File, fs.Key.Line)
		}
		if fs.Flagged() {
			sb.WriteString("    Note: some calls were force-completed or had clock anomalies\n")
		}
		sb.WriteString("\n")
	}

	if hints := output.Hints(snap.Stats); len(hints) > 0 {
		sb.WriteString("Suggestions:\n")
		for _, h := range hints {
			for _, sg := range h.Suggestions {
				fmt.Fprintf(&sb, "  • %s: %s\n", h.Function, sg.Reason)
			}
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleFlamePaths(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.load(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load profile: %v", err)), nil
	}
	if snap.Flame == nil {
		return mcp.NewToolResultError("profile has no flame graph; record it with flame capture enabled"), nil
	}

	paths := flamegraph.Flatten(snap.Flame)
	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].Self > paths[j].Self
	})
	if n := topN(req); n < len(paths) {
		paths = paths[:n]
	}

	var sb strings.Builder
	sb.WriteString("HEAVIEST CALL PATHS (self time)\n")
	sb.WriteString("═══════════════════════════════════════════════════\n\n")
	for i, p := range paths {
		fmt.Fprintf(&sb, "#%d: %s\n", i+1, p)
		fmt.Fprintf(&sb, "    Self: %s  Inclusive: %s  (%.2f%%)\n",
			output.HumanDuration(p.Self), output.HumanDuration(p.Value),
			profile.Percent(p.Self, snap.Flame.Root.Value))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleCompareProfiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	baseName, err := req.RequireString("baseline")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	curName, err := req.RequireString("current")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	base, err := s.load(baseName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load profile: %v", err)), nil
	}
	cur, err := s.load(curName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load profile: %v", err)), nil
	}

	var sb strings.Builder
	baseline.RenderComparison(&sb, base, baseline.Compare(base, cur.Stats))
	if deltas := baseline.ComparePaths(base, cur); len(deltas) > 0 {
		sb.WriteString("\nLargest path changes:\n")
		for _, d := range deltas[:min(len(deltas), 5)] {
			fmt.Fprintf(&sb, "  %v  %s\n", d.Delta(), d)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}
