// Package script turns a script designation into something the monitor can
// launch: an absolute executable path, an argument list and an environment.
package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/mattn/go-shellwords"
	"golang.org/x/sys/unix"
)

// Environment variables read by FromEnv.
const (
	EnvScript = "AVL_SCRIPT"
	EnvArgs   = "AVL_ARGS"
)

// ErrNoScript is returned when no script was designated.
var ErrNoScript = errors.New("missing script: use avlrun run <script> [args...] or set " + EnvScript)

// NotFoundError reports a script path that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("script not found: %s", e.Path)
}

// NotExecutableError reports a script the current user cannot execute.
type NotExecutableError struct {
	Path string
	Name string // as designated by the caller
}

func (e *NotExecutableError) Error() string {
	return fmt.Sprintf("script is not executable: %s", e.Path)
}

// Hint suggests how to fix the permission.
func (e *NotExecutableError) Hint() string {
	return "try: chmod +x " + shellescape.Quote(e.Name)
}

// Resolve returns the absolute path of the script called name. Relative
// names are taken from root. The script must exist and be executable.
func Resolve(root, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNoScript
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &NotFoundError{Path: path}
		}
		return "", fmt.Errorf("checking %s: %w", path, err)
	}
	if info.IsDir() || unix.Access(path, unix.X_OK) != nil {
		return "", &NotExecutableError{Path: path, Name: name}
	}
	return path, nil
}

// SplitArgs splits a shell-style argument string into words, honouring
// quotes and backslash escapes. Variables and backticks are not expanded.
func SplitArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing arguments %q: %w", raw, err)
	}
	return args, nil
}

// FromEnv reads the script designation and its arguments from AVL_SCRIPT
// and AVL_ARGS.
func FromEnv(getenv func(string) string) (string, []string, error) {
	name := strings.TrimSpace(getenv(EnvScript))
	if name == "" {
		return "", nil, ErrNoScript
	}
	args, err := SplitArgs(getenv(EnvArgs))
	if err != nil {
		return "", nil, err
	}
	return name, args, nil
}

// Environ snapshots the current process environment and applies overrides
// on top. The result is a fresh map owned by the caller.
func Environ(overrides map[string]string) map[string]string {
	env := make(map[string]string, len(overrides)+32)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// CommandLine renders argv as a shell command line for display.
func CommandLine(argv []string) string {
	return shellescape.QuoteCommand(argv)
}

// Discover lists the executable regular files under dirs, relative to
// root, sorted. Hidden files and directories are skipped.
func Discover(root string, dirs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, d := range dirs {
		base := d
		if !filepath.IsAbs(base) {
			base = filepath.Join(root, base)
		}
		err := filepath.WalkDir(base, func(path string, e fs.DirEntry, err error) error {
			if err != nil {
				if path == base && errors.Is(err, fs.ErrNotExist) {
					return fs.SkipAll
				}
				return err
			}
			if path != base && strings.HasPrefix(e.Name(), ".") {
				if e.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !e.Type().IsRegular() {
				return nil
			}
			info, err := e.Info()
			if err != nil {
				return err
			}
			if info.Mode().Perm()&0o111 == 0 {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			if !seen[rel] {
				seen[rel] = true
				out = append(out, rel)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", base, err)
		}
	}
	sort.Strings(out)
	return out, nil
}
