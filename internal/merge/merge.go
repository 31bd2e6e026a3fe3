// Package merge is the three-way text merge service: given a base, "ours",
// and "theirs" snapshot of a file, it either produces a clean merge or a
// merged text carrying Git-style conflict markers plus structured conflict
// regions. After the equality short-circuits, an index-aligned line probe
// picks the path: when no line conflicts, github.com/epiclabs-io/diff3 is
// tried first (ours as the a-reader, base as o, theirs as b), then a
// character-level patch of base->ours applied to theirs via
// github.com/sergi/go-diff/diffmatchpatch. When the probe finds a conflict,
// or neither attempt is clean, a per-line merge emits the conflict markers
// and regions.
package merge

import (
	"fmt"
	"io"
	"strings"

	"github.com/epiclabs-io/diff3"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/anthropics/filecoord/internal/binary"
)

// ConflictRegion is a contiguous range of merged-output lines that could
// not be reconciled automatically.
type ConflictRegion struct {
	StartLine int // 1-indexed, inclusive, into the merged output
	EndLine   int
	Base      string
	Ours      string
	Theirs    string
}

// Stats reports line-level differences between base and each side, plus
// how the merge itself resolved.
type Stats struct {
	BaseLines           int
	OursAddedLines      int
	OursRemovedLines    int
	TheirsAddedLines    int
	TheirsRemovedLines  int
	AutoMergedRegions   int
	ConflictingRegions  int
}

// Result is the outcome of a merge attempt.
type Result struct {
	Success      bool
	Merged       string
	HasConflicts bool
	Conflicts    []ConflictRegion
	Stats        Stats
}

const (
	conflictStartMarker = "<<<<<<< ours"
	conflictSepMarker   = "======="
	conflictEndMarker   = ">>>>>>> theirs"
	binaryPlaceholder   = "[Binary file]"
)

// Service performs three-way merges. It holds no state; it is a service
// object only so it can be passed around and mocked the way the
// coordinator expects of C1/C2/C4.
type Service struct{}

// New creates a merge Service.
func New() *Service {
	return &Service{}
}

// Merge attempts a three-way merge of base/ours/theirs for filePath.
func (s *Service) Merge(filePath, base, ours, theirs string) Result {
	if isBinaryContent(filePath, base) || isBinaryContent(filePath, ours) || isBinaryContent(filePath, theirs) {
		return binaryConflictResult()
	}

	stats := computeStats(base, ours, theirs)

	// Equality short-circuits.
	switch {
	case ours == theirs:
		return Result{Success: true, Merged: ours, Stats: stats}
	case ours == base:
		return Result{Success: true, Merged: theirs, Stats: stats}
	case theirs == base:
		return Result{Success: true, Merged: ours, Stats: stats}
	}

	baseLines := splitLines(base)
	oursLines := splitLines(ours)
	theirsLines := splitLines(theirs)

	if !hasLineConflict(baseLines, oursLines, theirsLines) {
		if merged, ok := tryDiff3(base, ours, theirs); ok {
			stats.AutoMergedRegions = 1
			return Result{Success: true, Merged: merged, Stats: stats}
		}
		if merged, ok := tryPatchPath(base, ours, theirs); ok {
			stats.AutoMergedRegions = 1
			return Result{Success: true, Merged: merged, Stats: stats}
		}
	}

	merged, regions := lineMerge(baseLines, oursLines, theirsLines)
	stats.ConflictingRegions = len(regions)

	return Result{
		Success:      len(regions) == 0,
		Merged:       merged,
		HasConflicts: len(regions) > 0,
		Conflicts:    regions,
		Stats:        stats,
	}
}

func isBinaryContent(filePath, content string) bool {
	return binary.Detect([]byte(content), filePath).IsBinary
}

func binaryConflictResult() Result {
	region := ConflictRegion{
		StartLine: 1,
		EndLine:   1,
		Base:      binaryPlaceholder,
		Ours:      binaryPlaceholder,
		Theirs:    binaryPlaceholder,
	}
	merged := strings.Join([]string{
		conflictStartMarker, binaryPlaceholder, conflictSepMarker, binaryPlaceholder, conflictEndMarker,
	}, "\n")
	return Result{
		Success:      false,
		Merged:       merged,
		HasConflicts: true,
		Conflicts:    []ConflictRegion{region},
		Stats:        Stats{ConflictingRegions: 1},
	}
}

// splitLines splits on "\n" the way the spec's line-level algorithms
// require. As with strings.Split, a trailing newline gives a trailing empty
// element, which is intentional — it lets "file ends with a newline"
// participate in equality/conflict checks like any other line. Empty text
// gives no lines at all.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// lineAt returns the line at i and whether it exists, treating an absent
// line as a distinct value rather than empty string.
func lineAt(lines []string, i int) (string, bool) {
	if i < 0 || i >= len(lines) {
		return "", false
	}
	return lines[i], true
}

func linesEqual(aVal string, aOk bool, bVal string, bOk bool) bool {
	if aOk != bOk {
		return false
	}
	if !aOk {
		return true
	}
	return aVal == bVal
}

func maxLen(a, b, c []string) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if len(c) > n {
		n = len(c)
	}
	return n
}

// hasLineConflict implements the line-level conflict probe: line i
// conflicts iff ours and theirs both differ from base, and from each
// other.
func hasLineConflict(base, ours, theirs []string) bool {
	n := maxLen(base, ours, theirs)
	for i := 0; i < n; i++ {
		bv, bOk := lineAt(base, i)
		ov, oOk := lineAt(ours, i)
		tv, tOk := lineAt(theirs, i)

		if linesEqual(ov, oOk, tv, tOk) {
			continue
		}
		if linesEqual(bv, bOk, tv, tOk) {
			continue // only ours differs
		}
		if linesEqual(bv, bOk, ov, oOk) {
			continue // only theirs differs
		}
		return true
	}
	return false
}

// tryPatchPath implements step 4: diff(base, ours) with semantic cleanup,
// turned into a patch set and applied to theirs. Used only when the
// line-level probe found no conflict, for fidelity on non-aligned
// insertions that a naive index collation would spuriously flag.
func tryPatchPath(base, ours, theirs string) (string, bool) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base, ours, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(base, diffs)

	merged, applied := dmp.PatchApply(patches, theirs)
	for _, ok := range applied {
		if !ok {
			return "", false
		}
	}
	return merged, true
}

// lineMerge implements step 5: a per-line three-way merge that emits
// conflict markers for any run of conflicting lines it cannot resolve.
func lineMerge(base, ours, theirs []string) (string, []ConflictRegion) {
	n := maxLen(base, ours, theirs)
	var mergedLines []string
	var regions []ConflictRegion

	i := 0
	for i < n {
		bv, bOk := lineAt(base, i)
		ov, oOk := lineAt(ours, i)
		tv, tOk := lineAt(theirs, i)

		switch {
		case linesEqual(ov, oOk, tv, tOk):
			if oOk {
				mergedLines = append(mergedLines, ov)
			}
			i++
		case linesEqual(bv, bOk, tv, tOk):
			if oOk {
				mergedLines = append(mergedLines, ov)
			}
			i++
		case linesEqual(bv, bOk, ov, oOk):
			if tOk {
				mergedLines = append(mergedLines, tv)
			}
			i++
		default:
			// Start of a conflicting run: extend it while lines keep
			// conflicting, then emit one marker block for the whole run.
			var baseRun, oursRun, theirsRun []string
			for i < n {
				bv, bOk = lineAt(base, i)
				ov, oOk = lineAt(ours, i)
				tv, tOk = lineAt(theirs, i)
				if linesEqual(ov, oOk, tv, tOk) || linesEqual(bv, bOk, tv, tOk) || linesEqual(bv, bOk, ov, oOk) {
					break
				}
				if bOk {
					baseRun = append(baseRun, bv)
				}
				if oOk {
					oursRun = append(oursRun, ov)
				}
				if tOk {
					theirsRun = append(theirsRun, tv)
				}
				i++
			}

			regionStart := len(mergedLines) + 1
			mergedLines = append(mergedLines, conflictStartMarker)
			mergedLines = append(mergedLines, oursRun...)
			mergedLines = append(mergedLines, conflictSepMarker)
			mergedLines = append(mergedLines, theirsRun...)
			mergedLines = append(mergedLines, conflictEndMarker)

			regions = append(regions, ConflictRegion{
				StartLine: regionStart,
				EndLine:   len(mergedLines),
				Base:      strings.Join(baseRun, "\n"),
				Ours:      strings.Join(oursRun, "\n"),
				Theirs:    strings.Join(theirsRun, "\n"),
			})
		}
	}

	return strings.Join(mergedLines, "\n"), regions
}

func computeStats(base, ours, theirs string) Stats {
	oursAdded, oursRemoved := countLineDiff(base, ours)
	theirsAdded, theirsRemoved := countLineDiff(base, theirs)
	return Stats{
		BaseLines:          len(splitLines(base)),
		OursAddedLines:     oursAdded,
		OursRemovedLines:   oursRemoved,
		TheirsAddedLines:   theirsAdded,
		TheirsRemovedLines: theirsRemoved,
	}
}

// countLineDiff reports lines added/removed going from base to other,
// using diffmatchpatch's line-mode diff so multi-line hunks compare as
// whole lines rather than runs of characters.
func countLineDiff(base, other string) (added, removed int) {
	dmp := diffmatchpatch.New()
	aChars, bChars, lineArray := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffMain(aChars, bChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		lines := strings.Count(d.Text, "\n")
		if lines == 0 && d.Text != "" {
			lines = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += lines
		case diffmatchpatch.DiffDelete:
			removed += lines
		}
	}
	return added, removed
}

// GenerateDiff renders a unified-diff-like view of old -> new, independent
// of any merge. Each output line carries a " ", "-" or "+" prefix, then the
// old and new line numbers (blank on the side the line does not exist on),
// then the line text.
func GenerateDiff(old, new string) string {
	dmp := diffmatchpatch.New()
	aChars, bChars, lineArray := dmp.DiffLinesToChars(old, new)
	diffs := dmp.DiffMain(aChars, bChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b strings.Builder
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				fmt.Fprintf(&b, "  %4d %4d %s\n", oldLine, newLine, line)
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				fmt.Fprintf(&b, "- %4d      %s\n", oldLine, line)
				oldLine++
			case diffmatchpatch.DiffInsert:
				fmt.Fprintf(&b, "+      %4d %s\n", newLine, line)
				newLine++
			}
		}
	}
	return b.String()
}

// ApplyPatch rebases the changes from original -> patched onto target,
// returning the result and whether every hunk applied cleanly.
func ApplyPatch(original, patched, target string) (string, bool) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, patched, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(original, diffs)

	result, applied := dmp.PatchApply(patches, target)
	for _, ok := range applied {
		if !ok {
			return result, false
		}
	}
	return result, true
}

// tryDiff3 attempts the merge via the diff3 algorithm before falling back
// to the character-diff patch path: the a-reader is "ours", the o-reader
// is base, the b-reader is "theirs".
func tryDiff3(base, ours, theirs string) (string, bool) {
	result, err := diff3.Merge(strings.NewReader(ours), strings.NewReader(base), strings.NewReader(theirs), true, "", "")
	if err != nil || result.Conflicts {
		return "", false
	}
	merged, err := io.ReadAll(result.Result)
	if err != nil {
		return "", false
	}
	return string(merged), true
}
