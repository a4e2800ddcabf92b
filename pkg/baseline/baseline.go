// Package baseline saves profiling results and detects drift between runs.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/danpilch/calltrace/pkg/memory"
	"github.com/danpilch/calltrace/pkg/profile"
)

// ErrNotFound is returned when no saved profile has the requested name.
var ErrNotFound = errors.New("saved profile not found")

// Snapshot is a saved profiling result.
type Snapshot struct {
	Name      string                `json:"name"`
	Timestamp time.Time             `json:"timestamp"`
	Hostname  string                `json:"hostname"`
	SessionID string                `json:"session_id,omitempty"`
	Duration  time.Duration         `json:"duration"`
	Stats     profile.ProfilerStats `json:"stats"`
	Flame     *profile.FlameGraph   `json:"flame,omitempty"`
	Memory    *memory.Delta         `json:"memory,omitempty"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
}

// DefaultDir returns the default profile storage directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calltrace/profiles"
	}
	return filepath.Join(home, ".calltrace", "profiles")
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// AutoName returns "profile_<label>_<YYYYmmdd_HHMMSS>" for t.
func AutoName(label string, t time.Time) string {
	label = strings.Trim(unsafeName.ReplaceAllString(label, "_"), "_")
	if label == "" {
		label = "session"
	}
	return fmt.Sprintf("profile_%s_%s", label, t.Format("20060102_150405"))
}

// Save writes the snapshot to <dir>/<name>.json.
func (s *Snapshot) Save(dir string) error {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create profile directory: %w", err)
	}

	path := filepath.Join(dir, s.Name+".json")
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal profile: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write profile: %w", err)
	}
	return nil
}

// SaveReport writes a text report next to the snapshot as <name>.txt.
func (s *Snapshot) SaveReport(dir string, render func(w io.Writer) error) error {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create profile directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, s.Name+".txt"))
	if err != nil {
		return fmt.Errorf("cannot create report: %w", err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("cannot render report: %w", err)
	}
	return f.Close()
}

// Load reads a saved snapshot. A name containing a path separator or a
// .json suffix is read as a file path.
func Load(name, dir string) (*Snapshot, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	path := filepath.Join(dir, name+".json")
	if strings.HasSuffix(name, ".json") || strings.ContainsRune(name, filepath.Separator) {
		path = name
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("cannot read profile %q: %w", name, err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("cannot parse profile: %w", err)
	}
	if s.Stats.Functions == nil {
		s.Stats.Functions = make(map[profile.FunctionKey]profile.FunctionStats)
	}
	return &s, nil
}

// List returns all saved profile names, oldest name first.
func List(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// NewSnapshot creates a snapshot of stats taken now.
func NewSnapshot(name string, stats profile.ProfilerStats, flame *profile.FlameGraph) *Snapshot {
	hostname, _ := os.Hostname()
	return &Snapshot{
		Name:      name,
		Timestamp: time.Now(),
		Hostname:  hostname,
		Stats:     stats,
		Flame:     flame,
	}
}
