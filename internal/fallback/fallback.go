// Package fallback finds and loads a local copy of a document when the remote
// fetch is refused for lack of permission.
package fallback

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dgallion1/docards/internal/retry"
)

// ErrNoCandidates is returned when no local file matches.
var ErrNoCandidates = errors.New("no local fallback candidates found")

// DefaultRoots are scanned, in order, relative to the base directory.
var DefaultRoots = []string{".", "docs", "markdown", "content", "cache"}

// DefaultPatterns select markdown files anywhere below a root.
var DefaultPatterns = []string{"**/*.md"}

var skipDirs = map[string]bool{
	"node_modules":     true,
	"vendor":           true,
	"venv":             true,
	"__pycache__":      true,
	"bower_components": true,
}

var permissionPhrases = []string{
	"permission denied",
	"access denied",
	"forbidden",
	"insufficient permissions",
}

// IsPermissionError reports whether err is a permission-class failure: HTTP
// status 403, an error code of 403, or a message naming denied access.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	var se *retry.StatusError
	if errors.As(err, &se) && se.StatusCode == 403 {
		return true
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code() == 403 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range permissionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Candidate is a local file that could stand in for the remote document.
type Candidate struct {
	Path    string
	ModTime time.Time
}

// Locator picks the most recently modified local document.
type Locator struct {
	ExplicitPath string
	BaseDir      string
	Roots        []string
	Patterns     []string
	Log          *slog.Logger
}

func NewLocator(explicitPath, baseDir string, patterns []string, log *slog.Logger) *Locator {
	return &Locator{
		ExplicitPath: explicitPath,
		BaseDir:      baseDir,
		Roots:        DefaultRoots,
		Patterns:     patterns,
		Log:          log,
	}
}

// Locate returns the explicit path when it exists, else the newest candidate.
func (l *Locator) Locate() (string, error) {
	log := l.logger()
	if l.ExplicitPath != "" {
		info, err := os.Stat(l.ExplicitPath)
		if err == nil && !info.IsDir() {
			log.Info("using configured fallback file", "path", l.ExplicitPath)
			return l.ExplicitPath, nil
		}
		log.Warn("configured fallback file unavailable, scanning", "path", l.ExplicitPath, "error", err)
	}

	candidates, err := l.Candidates()
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	log.Info("selected fallback file", "path", candidates[0].Path, "candidates", len(candidates))
	return candidates[0].Path, nil
}

// Candidates scans every root and returns matching files, newest first.
// Ties are broken by path so the order is stable.
func (l *Locator) Candidates() ([]Candidate, error) {
	base := l.BaseDir
	if base == "" {
		base = "."
	}
	roots := l.Roots
	if len(roots) == 0 {
		roots = DefaultRoots
	}
	patterns := l.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid fallback pattern %q", p)
		}
	}

	seen := make(map[string]bool)
	var out []Candidate
	for _, root := range roots {
		dir := filepath.Join(base, root)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable entries are skipped, not fatal.
				return nil
			}
			if d.IsDir() {
				if path != dir && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil || !matchAny(patterns, filepath.ToSlash(rel)) {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil || seen[abs] {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			seen[abs] = true
			out = append(out, Candidate{Path: path, ModTime: fi.ModTime()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return out, nil
}

func (l *Locator) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.New(slog.DiscardHandler)
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
