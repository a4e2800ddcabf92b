// Package config loads calltrace settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/output"
	"github.com/danpilch/calltrace/pkg/stats"
)

const (
	// DefaultDir is the settings directory below the user's home.
	DefaultDir = ".calltrace"
	// ConfigFile is the file name inside DefaultDir.
	ConfigFile = "config.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CALLTRACE_"
)

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Output configures reports.
type Output struct {
	Format string `yaml:"format"`
	Top    int    `yaml:"top"`
	Sort   string `yaml:"sort"`
}

// Profile configures sessions.
type Profile struct {
	CaptureFlame bool     `yaml:"capture_flame"`
	RetainFrames bool     `yaml:"retain_frames"`
	Include      []string `yaml:"include,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`
}

// Config is the complete settings file.
type Config struct {
	Log         Log     `yaml:"log"`
	Output      Output  `yaml:"output"`
	Profile     Profile `yaml:"profile"`
	ProfilesDir string  `yaml:"profiles_dir,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log:    Log{Level: "warn", Format: "text"},
		Output: Output{Format: string(output.FormatTable), Top: 20, Sort: string(stats.SortTotal)},
		Profile: Profile{
			CaptureFlame: true,
			Exclude:      append([]string(nil), hook.DefaultExclude...),
		},
	}
}

// Path returns the settings file location: $CALLTRACE_CONFIG when set,
// otherwise ~/.calltrace/config.yaml.
func Path() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultDir, ConfigFile)
	}
	return filepath.Join(home, DefaultDir, ConfigFile)
}

// Load reads the file at path, falling back to defaults when it does not
// exist, then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("cannot read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
		}
	}

	if err := MergeFromEnv(cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("cannot apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// MergeFromEnv applies CALLTRACE_* overrides read through getenv.
func MergeFromEnv(c *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("OUTPUT_FORMAT", &c.Output.Format)
	str("SORT", &c.Output.Sort)
	str("PROFILES_DIR", &c.ProfilesDir)

	if v := getenv(EnvPrefix + "TOP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTOP: %w", EnvPrefix, err)
		}
		c.Output.Top = n
	}
	for name, dst := range map[string]*bool{
		"CAPTURE_FLAME": &c.Profile.CaptureFlame,
		"RETAIN_FRAMES": &c.Profile.RetainFrames,
	} {
		if v := getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}
	if v := getenv(EnvPrefix + "INCLUDE"); v != "" {
		c.Profile.Include = splitList(v)
	}
	if v := getenv(EnvPrefix + "EXCLUDE"); v != "" {
		c.Profile.Exclude = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks every field that has a closed set of values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format: want text or json, got %q", c.Log.Format)
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if _, err := stats.ParseSortKey(c.Output.Sort); err != nil {
		return fmt.Errorf("output.sort: %w", err)
	}
	if c.Output.Top < 0 {
		return fmt.Errorf("output.top: must not be negative, got %d", c.Output.Top)
	}
	if _, err := c.Filter(); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return nil
}

// Filter builds the call filter from the include and exclude patterns.
func (c *Config) Filter() (*hook.Filter, error) {
	if len(c.Profile.Include) == 0 && len(c.Profile.Exclude) == 0 {
		return nil, nil
	}
	return hook.NewFilter(c.Profile.Include, c.Profile.Exclude)
}
