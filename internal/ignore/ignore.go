// Package ignore matches workspace-relative paths against .filecoordignore
// style patterns, used by the watcher to decide which filesystem events are
// worth tracking at all.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultPatterns are always ignored, even with no .filecoordignore present.
var DefaultPatterns = []string{
	".filecoord/",
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	"__pycache__/",
	"dist/",
	"build/",
	".DS_Store",
	"Thumbs.db",
	"*.swp",
	"*.swo",
	"*~",
	".#*",
	"*.pyc",
	"*.pyo",
	"*.class",
	"*.o",
	"*.obj",
	"*.exe",
	"*.dll",
	"*.so",
	"*.dylib",
}

// FileName is the name of the per-workspace ignore-pattern override file.
const FileName = ".filecoordignore"

// Matcher holds a compiled set of ignore patterns with full gitignore glob
// semantics (character classes, "**", anchored and negated patterns),
// rather than the prefix/suffix/contains heuristic a hand-rolled matcher
// would settle for.
type Matcher struct {
	gi *gitignore.GitIgnore
}

// NewMatcher compiles patterns into a Matcher. An unparsable pattern is
// dropped rather than failing the whole set, so one bad user line cannot
// discard the others (DefaultPatterns included, when the caller prepended
// them); use LoadFromFile/LoadFromDir when the caller wants to know about
// bad lines up front.
func NewMatcher(patterns []string) *Matcher {
	m, err := newMatcher(patterns)
	if err != nil {
		// Compilation only fails on a malformed pattern string; keep every
		// pattern that compiles on its own and drop the rest, so callers
		// still get a working matcher instead of nil.
		kept := make([]string, 0, len(patterns))
		for _, p := range patterns {
			if _, perr := newMatcher([]string{p}); perr == nil {
				kept = append(kept, p)
			}
		}
		m, _ = newMatcher(kept)
	}
	return m
}

func newMatcher(patterns []string) (*Matcher, error) {
	gi, err := gitignore.CompileIgnoreLines(patterns...)
	if err != nil {
		return nil, err
	}
	return &Matcher{gi: gi}, nil
}

// LoadFromFile loads patterns from path, falling back to DefaultPatterns
// alone if the file doesn't exist.
func LoadFromFile(path string) (*Matcher, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newMatcher(DefaultPatterns)
		}
		return nil, err
	}
	defer file.Close()

	patterns := append([]string{}, DefaultPatterns...)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return newMatcher(patterns)
}

// LoadFromDir loads FileName from the given workspace root.
func LoadFromDir(dir string) (*Matcher, error) {
	return LoadFromFile(filepath.Join(dir, FileName))
}

// Match reports whether path (workspace-relative) should be ignored.
// Directory candidates are probed with a trailing slash so dir-only
// patterns (e.g. "build/") only ever match directories, matching git's
// own convention for evaluating a tree walk against .gitignore.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)
	if isDir && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return m.gi.MatchesPath(path)
}

// ShouldInclude is the negation of Match, for readability at call sites.
func (m *Matcher) ShouldInclude(path string, isDir bool) bool {
	return !m.Match(path, isDir)
}

// DefaultFileContents is written out by `filecoordctl init` to seed a
// fresh .filecoordignore.
func DefaultFileContents() string {
	var b strings.Builder
	b.WriteString("# filecoord ignore patterns (gitignore syntax; see DefaultPatterns for the built-in set)\n")
	return b.String()
}
