package tracker

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestRegisterReadThenWriteTracksCurrentHash(t *testing.T) {
	tr := New(DefaultConfig())
	h0 := tr.ComputeHashString("hello")
	tr.RegisterRead("/ws/foo.txt", "s1", "i1", []byte("hello"), h0, false)

	f := tr.GetTrackedFile("/ws/foo.txt")
	if f == nil {
		t.Fatal("expected tracked file after read")
	}
	if _, ok := f.Readers["s1"]; !ok {
		t.Fatal("expected s1 in readers")
	}
	if f.CurrentHash != h0 {
		t.Fatalf("current hash = %q, want %q", f.CurrentHash, h0)
	}

	h1 := tr.ComputeHashString("hello world")
	tr.RegisterWrite("/ws/foo.txt", "s1", "i1", []byte("hello world"), h1, false)

	f = tr.GetTrackedFile("/ws/foo.txt")
	if f.CurrentHash != h1 {
		t.Fatalf("current hash after write = %q, want %q", f.CurrentHash, h1)
	}
	if _, ok := f.Writers["s1"]; !ok {
		t.Fatal("expected s1 in writers")
	}

	expected, ok := tr.SessionExpectedHash("s1", "/ws/foo.txt")
	if !ok || expected != h1 {
		t.Fatalf("session expected hash = %q,%v want %q", expected, ok, h1)
	}
}

func TestNoTwoAdjacentVersionsShareAHash(t *testing.T) {
	tr := New(DefaultConfig())
	h := tr.ComputeHashString("same")
	for i := 0; i < 5; i++ {
		tr.RegisterWrite("/ws/dup.txt", "s1", "i1", []byte("same"), h, false)
	}
	history := tr.GetFileHistory("/ws/dup.txt")
	if len(history) != 1 {
		t.Fatalf("expected duplicate consecutive writes to collapse to 1 version, got %d", len(history))
	}
}

func TestVersionRingRespectsCapacity(t *testing.T) {
	cfg := Config{MaxVersionsPerFile: 3, MaxCacheSize: DefaultMaxCacheSize}
	tr := New(cfg)
	for i := 0; i < 10; i++ {
		content := []byte{byte(i)}
		tr.RegisterWrite("/ws/ring.txt", "s1", "i1", content, tr.ComputeHash(content), false)
	}
	history := tr.GetFileHistory("/ws/ring.txt")
	if len(history) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(history))
	}
	// The ring should hold the most recent three writes: bytes 7,8,9.
	if history[len(history)-1].Hash != tr.ComputeHash([]byte{9}) {
		t.Fatalf("expected newest version last, got %+v", history)
	}
	for i := range history {
		for j := range history {
			if i != j && history[i].Hash == history[j].Hash {
				t.Fatalf("ring contains duplicate hashes: %+v", history)
			}
		}
	}
}

func TestBinaryVersionsNeverCacheContent(t *testing.T) {
	tr := New(DefaultConfig())
	content := []byte{0x00, 0x01, 0x02}
	tr.RegisterWrite("/ws/bin.dat", "s1", "i1", content, tr.ComputeHash(content), true)

	history := tr.GetFileHistory("/ws/bin.dat")
	if len(history) != 1 {
		t.Fatalf("expected 1 version, got %d", len(history))
	}
	if history[0].HasContent {
		t.Fatal("binary file version must never cache content")
	}
}

func TestContentCachingRespectsMaxCacheSize(t *testing.T) {
	cfg := Config{MaxVersionsPerFile: DefaultMaxVersionsPerFile, MaxCacheSize: 4}
	tr := New(cfg)
	small := []byte("ab")
	big := []byte("abcdefgh")

	tr.RegisterWrite("/ws/small.txt", "s1", "i1", small, tr.ComputeHash(small), false)
	h := tr.GetFileHistory("/ws/small.txt")
	if !h[0].HasContent {
		t.Fatal("expected small content to be cached")
	}

	tr.RegisterWrite("/ws/big.txt", "s1", "i1", big, tr.ComputeHash(big), false)
	h = tr.GetFileHistory("/ws/big.txt")
	if h[0].HasContent {
		t.Fatal("expected oversized content not to be cached")
	}
}

func TestUnregisterSessionDropsUnreferencedFiles(t *testing.T) {
	tr := New(DefaultConfig())
	h := tr.ComputeHashString("x")
	tr.RegisterRead("/ws/only.txt", "s1", "i1", []byte("x"), h, false)
	tr.RegisterRead("/ws/shared.txt", "s1", "i1", []byte("x"), h, false)
	tr.RegisterRead("/ws/shared.txt", "s2", "i1", []byte("x"), h, false)

	tr.UnregisterSession("s1")

	if tr.GetTrackedFile("/ws/only.txt") != nil {
		t.Fatal("expected unreferenced file to be dropped")
	}
	f := tr.GetTrackedFile("/ws/shared.txt")
	if f == nil {
		t.Fatal("expected shared file to remain tracked")
	}
	if _, ok := f.Readers["s1"]; ok {
		t.Fatal("expected s1 removed from readers")
	}
	if _, ok := f.Readers["s2"]; !ok {
		t.Fatal("expected s2 to remain a reader")
	}
	if _, ok := tr.SessionExpectedHash("s1", "/ws/shared.txt"); ok {
		t.Fatal("expected s1's expected-hash entry to be removed")
	}
}

func TestUntrackFileIsIdempotent(t *testing.T) {
	tr := New(DefaultConfig())
	h := tr.ComputeHashString("x")
	tr.RegisterRead("/ws/gone.txt", "s1", "i1", []byte("x"), h, false)

	tr.UntrackFile("/ws/gone.txt")
	tr.UntrackFile("/ws/gone.txt")

	if tr.GetTrackedFile("/ws/gone.txt") != nil {
		t.Fatal("expected file to be untracked")
	}
}

func TestGetCommonBaseFallsBackToFirstVersion(t *testing.T) {
	tr := New(DefaultConfig())
	h1 := tr.ComputeHashString("v1")
	tr.RegisterRead("/ws/base.txt", "s1", "i1", []byte("v1"), h1, false)

	base := tr.GetCommonBase("/ws/base.txt", "s1", "s2")
	if base == nil {
		t.Fatal("expected a fallback base when history exists")
	}
	if base.Hash != h1 {
		t.Fatalf("expected fallback to first version, got %+v", base)
	}
}

func TestGetCommonBaseNilWithNoHistory(t *testing.T) {
	tr := New(DefaultConfig())
	if base := tr.GetCommonBase("/ws/never-seen.txt", "s1", "s2"); base != nil {
		t.Fatalf("expected nil base for untracked file, got %+v", base)
	}
}

func TestGetVersionByHash(t *testing.T) {
	tr := New(DefaultConfig())
	h := tr.ComputeHashString("v1")
	tr.RegisterRead("/ws/v.txt", "s1", "i1", []byte("v1"), h, false)

	if v := tr.GetVersionByHash("/ws/v.txt", h); v == nil || v.Hash != h {
		t.Fatalf("expected exact version match, got %+v", v)
	}
	if v := tr.GetVersionByHash("/ws/v.txt", "nonexistent"); v != nil {
		t.Fatalf("expected nil for unknown hash, got %+v", v)
	}
}

func TestPruneOldVersionsAlwaysKeepsLatest(t *testing.T) {
	tr := New(DefaultConfig())
	f := tr.getOrCreate("/ws/old.txt")
	f.Versions = []FileVersion{
		{Hash: "a", Timestamp: time.Now().Add(-48 * time.Hour)},
		{Hash: "b", Timestamp: time.Now().Add(-1 * time.Hour)},
	}

	pruned := tr.PruneOldVersions(24 * time.Hour)
	if pruned != 1 {
		t.Fatalf("expected 1 pruned version, got %d", pruned)
	}
	history := tr.GetFileHistory("/ws/old.txt")
	if len(history) != 1 || history[0].Hash != "b" {
		t.Fatalf("expected only the recent version to remain, got %+v", history)
	}
}

func TestPathNormalizationTreatsCaseAndSlashesAsEqualKeys(t *testing.T) {
	tr := New(DefaultConfig())
	h := tr.ComputeHashString("x")
	tr.RegisterRead(`/WS/Foo.TXT`, "s1", "i1", []byte("x"), h, false)

	if tr.GetTrackedFile("/ws/foo.txt") == nil {
		t.Fatal("expected normalized path lookup to find the file regardless of case")
	}
}

func TestGetFileHistoryMatchesExpectedVersionShape(t *testing.T) {
	tr := New(DefaultConfig())
	h0 := tr.ComputeHashString("a")
	h1 := tr.ComputeHashString("b")
	tr.RegisterRead("/ws/f.txt", "s1", "i1", []byte("a"), h0, false)
	tr.RegisterWrite("/ws/f.txt", "s1", "i1", []byte("b"), h1, false)

	want := []FileVersion{
		{Hash: h0, SessionID: "s1", InstanceID: "i1", Content: "a", HasContent: true},
		{Hash: h1, SessionID: "s1", InstanceID: "i1", Content: "b", HasContent: true},
	}

	got := tr.GetFileHistory("/ws/f.txt")
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(FileVersion{}, "Timestamp")); diff != "" {
		t.Fatalf("file history mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionsExcludesExternal(t *testing.T) {
	tr := New(DefaultConfig())
	h := tr.ComputeHashString("x")
	tr.RegisterRead("/ws/a.txt", "s1", "i1", []byte("x"), h, false)
	tr.RegisterWrite("/ws/b.txt", ExternalSessionID, "watcher", []byte("x"), h, false)

	sessions := tr.Sessions()
	if len(sessions) != 1 || sessions[0] != "s1" {
		t.Fatalf("Sessions() = %v, want [s1]", sessions)
	}
}

// -----------------------------------------------------------------------------
// Randomized-sequence property tests.
//
// Each seed drives a fresh Tracker through a random sequence of
// read/write/unregister operations over a small pool of paths and
// sessions, checking the universal invariants after every single step
// rather than only at the end, so a violation is caught at the op that
// introduced it.
// -----------------------------------------------------------------------------

const (
	propertySeeds      = 30
	propertyOpsPerSeed = 150
)

var (
	propertyPaths    = []string{"/ws/a.txt", "/ws/b.txt", "/ws/c.txt"}
	propertySessions = []string{"s1", "s2", "s3"}
	propertyContents = []string{"x", "y", "xy", "xyz", "same"}
)

func TestRandomizedOperationSequencePreservesInvariants(t *testing.T) {
	const maxVersions = 4

	for seed := int64(1); seed <= propertySeeds; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			tr := New(Config{MaxVersionsPerFile: maxVersions, MaxCacheSize: DefaultMaxCacheSize})
			registered := make(map[string]bool)

			for i := 0; i < propertyOpsPerSeed; i++ {
				path := propertyPaths[rng.Intn(len(propertyPaths))]
				session := propertySessions[rng.Intn(len(propertySessions))]
				content := propertyContents[rng.Intn(len(propertyContents))]
				hash := tr.ComputeHashString(content)

				switch rng.Intn(3) {
				case 0:
					tr.RegisterRead(path, session, "i1", []byte(content), hash, false)
					registered[session] = true
				case 1:
					tr.RegisterWrite(path, session, "i1", []byte(content), hash, false)
					registered[session] = true
				case 2:
					if registered[session] {
						tr.UnregisterSession(session)
						assertNoSessionResidue(t, tr, session)
					}
				}

				assertNoAdjacentDuplicateHashes(t, tr)
				assertVersionRingWithinCapacity(t, tr, maxVersions)
				assertCachedContentHashesMatch(t, tr)
			}
		})
	}
}

func assertNoAdjacentDuplicateHashes(t *testing.T, tr *Tracker) {
	t.Helper()
	for path, f := range tr.files {
		for i := 1; i < len(f.Versions); i++ {
			if f.Versions[i-1].Hash == f.Versions[i].Hash {
				t.Fatalf("path %s: adjacent versions %d,%d share hash %q", path, i-1, i, f.Versions[i].Hash)
			}
		}
	}
}

func assertVersionRingWithinCapacity(t *testing.T, tr *Tracker, maxVersions int) {
	t.Helper()
	for path, f := range tr.files {
		if len(f.Versions) > maxVersions {
			t.Fatalf("path %s: %d versions exceeds cap %d", path, len(f.Versions), maxVersions)
		}
	}
}

func assertCachedContentHashesMatch(t *testing.T, tr *Tracker) {
	t.Helper()
	for path, f := range tr.files {
		for i, v := range f.Versions {
			if v.HasContent && tr.ComputeHashString(v.Content) != v.Hash {
				t.Fatalf("path %s: version %d cached content hashes to %q, recorded hash is %q",
					path, i, tr.ComputeHashString(v.Content), v.Hash)
			}
		}
	}
}

func assertNoSessionResidue(t *testing.T, tr *Tracker, session string) {
	t.Helper()
	for path, f := range tr.files {
		if _, ok := f.Readers[session]; ok {
			t.Fatalf("path %s: readers still contains unregistered session %s", path, session)
		}
		if _, ok := f.Writers[session]; ok {
			t.Fatalf("path %s: writers still contains unregistered session %s", path, session)
		}
	}
	if _, ok := tr.expectedHash[session]; ok {
		t.Fatalf("expected-hash map still has an entry for unregistered session %s", session)
	}
}
