// Package pathkey normalizes absolute filesystem paths into the map-key
// form the tracker and coordinator use to agree on identity for a file,
// independent of path separator or case.
package pathkey

import (
	"path/filepath"
	"strings"
)

// Normalize collapses ".."/"." segments, converts separators to "/", and
// lowercases the result. The original absolute path should still be kept
// alongside the normalized form for I/O — lowercasing means two
// differently-cased paths that are distinct files on a case-sensitive
// filesystem normalize to the same key, a deliberate tradeoff for treating
// case as insignificant everywhere else in the engine.
func Normalize(absPath string) string {
	cleaned := filepath.Clean(absPath)
	slashed := filepath.ToSlash(cleaned)
	return strings.ToLower(slashed)
}
