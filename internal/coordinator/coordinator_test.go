package coordinator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/filecoord/internal/coorderr"
	"github.com/anthropics/filecoord/internal/merge"
	"github.com/anthropics/filecoord/internal/registry"
	"github.com/anthropics/filecoord/internal/tracker"
	"github.com/anthropics/filecoord/internal/watcher"
)

func newTestCoordinator(t *testing.T, root string) *Coordinator {
	t.Helper()
	tr := tracker.New(tracker.DefaultConfig())
	merger := merge.New()
	reg := registry.New()
	w := watcher.New(watcher.DefaultConfig(root))
	return New(root, reg, tr, merger, w)
}

func TestConcurrentWriteDetection(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "foo.txt")
	if err := os.WriteFile(path, []byte("orig"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newTestCoordinator(t, root)

	h0, _, err := c.RegisterRead(path, "s1", "i1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.RegisterRead(path, "s2", "i1"); err != nil {
		t.Fatal(err)
	}

	res2, err := c.RegisterWrite(path, "s2", "i1", []byte("s2-content"), h0)
	if err != nil {
		t.Fatal(err)
	}
	if !res2.Success {
		t.Fatalf("expected s2's write to succeed, got %+v", res2)
	}

	res1, err := c.RegisterWrite(path, "s1", "i1", []byte("s1-content"), h0)
	if err != nil {
		t.Fatal(err)
	}
	if res1.Success {
		t.Fatalf("expected s1's stale write to be rejected, got %+v", res1)
	}
	if res1.Conflict == nil || res1.Conflict.Kind != ConflictConcurrentWrite {
		t.Fatalf("expected a concurrent-write conflict, got %+v", res1.Conflict)
	}

	active := c.GetActiveConflicts()
	if len(active) != 1 {
		t.Fatalf("expected exactly one active conflict, got %d", len(active))
	}
}

func TestResolutionRestoresConsistency(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "foo.txt")
	if err := os.WriteFile(path, []byte("orig"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newTestCoordinator(t, root)

	h0, _, _ := c.RegisterRead(path, "s1", "i1")
	c.RegisterRead(path, "s2", "i1")
	c.RegisterWrite(path, "s2", "i1", []byte("s2-content"), h0)
	res1, _ := c.RegisterWrite(path, "s1", "i1", []byte("s1-content"), h0)
	if res1.Conflict == nil {
		t.Fatal("expected a conflict to resolve")
	}

	manual := "merged-by-hand"
	result, err := c.ResolveConflict(res1.Conflict.ConflictID, ResolutionManual, "s1", &manual)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected resolution to succeed, got %+v", result)
	}

	if c.GetConflict(res1.Conflict.ConflictID) != nil {
		t.Fatal("expected conflict to be cleared after resolution")
	}
	if len(c.GetActiveConflicts()) != 0 {
		t.Fatal("expected no active conflicts after resolution")
	}

	diskContent, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(diskContent) != manual {
		t.Fatalf("disk content = %q, want %q", diskContent, manual)
	}

	wantHash := c.tracker.ComputeHashString(manual)
	if result.NewHash != wantHash {
		t.Fatalf("new hash = %q, want %q", result.NewHash, wantHash)
	}

	for _, session := range []string{"s1", "s2"} {
		got, ok := c.tracker.SessionExpectedHash(session, path)
		if !ok || got != wantHash {
			t.Fatalf("expected %s's expected hash updated to %q, got %q (ok=%v)", session, wantHash, got, ok)
		}
	}
}

func TestExternalChangeBecomesConflict(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "bar.txt")
	if err := os.WriteFile(path, []byte("orig"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newTestCoordinator(t, root)

	if _, _, err := c.RegisterRead(path, "s1", "i1"); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("edited externally"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := c.handleFileChange(watcher.FileChangeEvent{
		Type:         watcher.ChangeModify,
		AbsolutePath: path,
		DetectedBy:   watcher.DetectedByWatcher,
	})
	if err != nil {
		t.Fatalf("handleFileChange: %v", err)
	}

	conflict := c.GetConflictByPath(path)
	if conflict == nil || conflict.Kind != ConflictExternalChange {
		t.Fatalf("expected an external-change conflict, got %+v", conflict)
	}
}

func TestAgentReportedEventsAreSkipped(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "baz.txt")
	if err := os.WriteFile(path, []byte("orig"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newTestCoordinator(t, root)
	if _, _, err := c.RegisterRead(path, "s1", "i1"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := c.handleFileChange(watcher.FileChangeEvent{
		Type:         watcher.ChangeModify,
		AbsolutePath: path,
		DetectedBy:   watcher.DetectedByAgentReport,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.GetConflictByPath(path) != nil {
		t.Fatal("agent-reported events must never create conflicts")
	}
}

func TestResolveAutoMergedOnBinaryConflictFails(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "img.png")
	pngMagic := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0}
	if err := os.WriteFile(path, pngMagic, 0o644); err != nil {
		t.Fatal(err)
	}
	c := newTestCoordinator(t, root)

	h0, _, _ := c.RegisterRead(path, "s1", "i1")
	c.RegisterRead(path, "s2", "i1")
	c.RegisterWrite(path, "s2", "i1", append(append([]byte{}, pngMagic...), 'x'), h0)
	res1, _ := c.RegisterWrite(path, "s1", "i1", append(append([]byte{}, pngMagic...), 'y'), h0)
	if res1.Conflict == nil {
		t.Fatal("expected a conflict on concurrent binary writes")
	}

	_, err := c.ResolveConflict(res1.Conflict.ConflictID, ResolutionAutoMerged, "s1", nil)
	if !errors.Is(err, coorderr.ErrBinaryUnmergeable) {
		t.Fatalf("expected ErrBinaryUnmergeable, got %v", err)
	}
}

func TestResolveUnknownConflictReturnsNotFound(t *testing.T) {
	root := t.TempDir()
	c := newTestCoordinator(t, root)
	_, err := c.ResolveConflict("does-not-exist", ResolutionKeepTheirs, "s1", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown conflict id")
	}
}
