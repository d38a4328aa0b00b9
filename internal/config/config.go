// Package config loads the optional .avlrun YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deixis/avlrun/internal/monitor"
)

// FileName is the name of the configuration file at the repository root.
const FileName = ".avlrun"

// DefaultMaxOutput caps the transcript returned by the MCP run tool.
const DefaultMaxOutput = 1 << 20 // 1 MB

// Config holds the parsed .avlrun configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int               `yaml:"version"`
	Marker       string            `yaml:"marker"`     // default [ERR]
	RawTimeout   string            `yaml:"timeout"`    // e.g. "10m"; empty means none
	RawMaxOutput int               `yaml:"max_output"` // bytes
	RawRunsDir   string            `yaml:"runs_dir"`
	Scripts      []string          `yaml:"scripts"` // directories listed by avl_workspace
	Env          map[string]string `yaml:"env"`     // merged onto the ambient environment
	Log          LogConfig         `yaml:"log"`
}

// LogConfig controls the log sink.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, text, json
}

// MarkerText returns the configured failure marker or the default.
func (c *Config) MarkerText() string {
	if c.Marker != "" {
		return c.Marker
	}
	return monitor.DefaultMarker
}

// Timeout returns the configured run timeout. Zero means the run may take
// as long as the script does.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// RunsDir returns the directory run records are written to. Relative
// paths are taken from root. Without configuration it is the user cache
// directory, or "" when that is unknown.
func (c *Config) RunsDir(root string) string {
	if c.RawRunsDir != "" {
		if filepath.IsAbs(c.RawRunsDir) {
			return c.RawRunsDir
		}
		return filepath.Join(root, c.RawRunsDir)
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(cache, "avlrun", "runs")
}

// ScriptDirs returns the directories scanned for scripts, defaulting to the
// repository root.
func (c *Config) ScriptDirs() []string {
	if len(c.Scripts) > 0 {
		return c.Scripts
	}
	return []string{"."}
}

// LoadResult holds the parsed config and the discovered repository root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory holding .avlrun or .git; falls back to workspace
}

// Load reads the .avlrun file from the repository root. The root is found
// by walking upward from workspace to the first directory containing
// .avlrun or .git. If no .avlrun file exists, a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		root = workspace
	}

	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{Config: &Config{}, RepoRoot: root}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	return &LoadResult{Config: cfg, RepoRoot: root}, nil
}

// findRepoRoot walks upward from dir looking for .avlrun or .git.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range []string{FileName, ".git"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s or .git found", FileName)
		}
		dir = parent
	}
}
