// Package coordinator is the orchestrator that mediates session
// reads/writes, consumes watcher events, creates and resolves Conflict
// records, and publishes events on a bus. It holds references to the
// binary detector, change tracker, merge service, and filesystem watcher,
// and is the only place tracker state and disk are mutated together.
package coordinator

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/filecoord/internal/binary"
	"github.com/anthropics/filecoord/internal/coorderr"
	"github.com/anthropics/filecoord/internal/diskio"
	"github.com/anthropics/filecoord/internal/eventbus"
	"github.com/anthropics/filecoord/internal/logging"
	"github.com/anthropics/filecoord/internal/merge"
	"github.com/anthropics/filecoord/internal/registry"
	"github.com/anthropics/filecoord/internal/tracker"
	"github.com/anthropics/filecoord/internal/watcher"
)

// ConflictKind classifies why a Conflict was created.
type ConflictKind string

const (
	ConflictConcurrentWrite ConflictKind = "concurrent-write"
	ConflictExternalChange  ConflictKind = "external-change"
	ConflictMergeConflict   ConflictKind = "merge-conflict"
)

// Resolution is how a caller wants a Conflict resolved.
type Resolution string

const (
	ResolutionAutoMerged Resolution = "auto-merged"
	ResolutionKeepOurs   Resolution = "keep-ours"
	ResolutionKeepTheirs Resolution = "keep-theirs"
	ResolutionManual     Resolution = "manual"
)

// InvolvedSession records one session's stake in a Conflict.
type InvolvedSession struct {
	SessionID  string
	InstanceID string
	Hash       string
	Timestamp  time.Time
}

// MergeOutcome is the merge attempt recorded on a Conflict.
type MergeOutcome struct {
	CanAutoMerge  bool
	MergedContent string
	Conflicts     []merge.ConflictRegion
}

// Conflict is an active, unresolved disagreement about a file's content.
type Conflict struct {
	ConflictID       string
	FilePath         string
	AbsolutePath     string
	Timestamp        time.Time
	Kind             ConflictKind
	InvolvedSessions []InvolvedSession
	MergeResult      MergeOutcome
	IsBinary         bool
}

// EventType names the three event shapes the coordinator publishes.
type EventType string

const (
	EventFileChanged          EventType = "file.changed"
	EventFileConflict         EventType = "file.conflict"
	EventFileConflictResolved EventType = "file.conflict.resolved"
)

// FileChangedPayload is published whenever a write or external change
// lands without producing a conflict.
type FileChangedPayload struct {
	FilePath         string
	AbsolutePath     string
	ChangeType       string // "add", "change", "unlink"
	SessionID        string
	InstanceID       string
	Hash             string
	PreviousHash     string
	Timestamp        time.Time
	AffectedSessions []string
}

// ConflictPayload is published when a Conflict is created.
type ConflictPayload struct {
	ConflictID       string
	FilePath         string
	AbsolutePath     string
	ConflictType     ConflictKind
	InvolvedSessions []InvolvedSession
	MergeResult      MergeOutcome
	Timestamp        time.Time
}

// ConflictResolvedPayload is published when a Conflict is resolved.
type ConflictResolvedPayload struct {
	ConflictID   string
	FilePath     string
	Resolution   Resolution
	ResolvedBy   string
	NewHash      string
	Timestamp    time.Time
}

// Event is the single type flowing through the coordinator's bus; exactly
// one of the payload fields is set, matching EventType.
type Event struct {
	Type             EventType
	FileChanged      *FileChangedPayload
	Conflict         *ConflictPayload
	ConflictResolved *ConflictResolvedPayload
}

// WriteResult is returned from RegisterWrite.
type WriteResult struct {
	Success  bool
	Hash     string
	Conflict *Conflict
}

// ResolveResult is returned from ResolveConflict.
type ResolveResult struct {
	Success bool
	NewHash string
}

// Coordinator is one per workspace root.
type Coordinator struct {
	root    string
	tracker *tracker.Tracker
	merger  *merge.Service
	watcher *watcher.Watcher
	bus     *eventbus.Bus[Event]
	mu      *sync.Mutex // the single per-workspace mutex, from registry.Registry

	conflictsMu sync.RWMutex
	byPath      map[string]*Conflict // keyed by absolute path
	byID        map[string]*Conflict

	unsubscribeWatcher eventbus.Unsubscribe
}

// New builds a Coordinator for root. The caller supplies the tracker,
// merger, and watcher so they can be shared or swapped out by tests.
func New(root string, reg *registry.Registry, tr *tracker.Tracker, merger *merge.Service, w *watcher.Watcher) *Coordinator {
	return &Coordinator{
		root:    root,
		tracker: tr,
		merger:  merger,
		watcher: w,
		bus:     eventbus.New[Event](),
		mu:      reg.MutexFor(root),
		byPath:  make(map[string]*Conflict),
		byID:    make(map[string]*Conflict),
	}
}

// Subscribe registers a handler for every published Event.
func (c *Coordinator) Subscribe(handler func(Event)) eventbus.Unsubscribe {
	return c.bus.Subscribe(handler)
}

// Start brings the underlying watcher up and wires its events into
// handleFileChange.
func (c *Coordinator) Start() error {
	c.unsubscribeWatcher = c.watcher.Subscribe(func(e watcher.FileChangeEvent) {
		if err := c.handleFileChange(e); err != nil {
			logging.Warn("coordinator: handleFileChange failed", "path", e.AbsolutePath, "error", err.Error())
		}
	})
	return c.watcher.Start()
}

// Stop tears down the watcher subscription and the watcher itself.
func (c *Coordinator) Stop() {
	if c.unsubscribeWatcher != nil {
		c.unsubscribeWatcher()
	}
	c.watcher.Stop()
}

// Clear resets all conflict and tracker state. For tests.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflictsMu.Lock()
	defer c.conflictsMu.Unlock()
	c.byPath = make(map[string]*Conflict)
	c.byID = make(map[string]*Conflict)
	*c.tracker = *tracker.New(tracker.DefaultConfig())
}

// GetTracker exposes the underlying tracker to external collaborators.
func (c *Coordinator) GetTracker() *tracker.Tracker { return c.tracker }

// GetMerger exposes the underlying merge service.
func (c *Coordinator) GetMerger() *merge.Service { return c.merger }

// GetWatcher exposes the underlying watcher.
func (c *Coordinator) GetWatcher() *watcher.Watcher { return c.watcher }

// GetActiveConflicts returns every currently active conflict, guarded only
// by the lightweight conflicts-map lock rather than the workspace mutex.
func (c *Coordinator) GetActiveConflicts() []*Conflict {
	c.conflictsMu.RLock()
	defer c.conflictsMu.RUnlock()
	out := make([]*Conflict, 0, len(c.byID))
	for _, conflict := range c.byID {
		out = append(out, conflict)
	}
	return out
}

// GetConflict returns the conflict with the given ID, or nil.
func (c *Coordinator) GetConflict(conflictID string) *Conflict {
	c.conflictsMu.RLock()
	defer c.conflictsMu.RUnlock()
	return c.byID[conflictID]
}

// GetConflictByPath returns the active conflict for absolutePath, or nil.
func (c *Coordinator) GetConflictByPath(absolutePath string) *Conflict {
	c.conflictsMu.RLock()
	defer c.conflictsMu.RUnlock()
	return c.byPath[absolutePath]
}

func (c *Coordinator) addConflict(conflict *Conflict) {
	c.conflictsMu.Lock()
	defer c.conflictsMu.Unlock()
	c.byPath[conflict.AbsolutePath] = conflict
	c.byID[conflict.ConflictID] = conflict
}

func (c *Coordinator) removeConflict(conflict *Conflict) {
	c.conflictsMu.Lock()
	defer c.conflictsMu.Unlock()
	delete(c.byPath, conflict.AbsolutePath)
	delete(c.byID, conflict.ConflictID)
}

// RegisterRead reads absolutePath from disk, classifies it, and records
// sessionID/instanceID as a reader.
func (c *Coordinator) RegisterRead(absolutePath, sessionID, instanceID string) (hash string, content []byte, err error) {
	content, err = diskio.ReadFile(absolutePath)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", coorderr.ErrIoRead, err)
	}
	isBinary := binary.Detect(content, absolutePath).IsBinary
	hash = c.tracker.ComputeHash(content)

	c.mu.Lock()
	c.tracker.RegisterRead(absolutePath, sessionID, instanceID, content, hash, isBinary)
	c.mu.Unlock()

	return hash, content, nil
}

// RegisterWrite attempts to write content to absolutePath on behalf of
// sessionID. expectedHash, if non-empty, overrides the session's own
// recorded expected hash as the staleness check.
func (c *Coordinator) RegisterWrite(absolutePath, sessionID, instanceID string, content []byte, expectedHash string) (WriteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newHash := c.tracker.ComputeHash(content)
	isBinary := binary.Detect(content, absolutePath).IsBinary

	tracked := c.tracker.GetTrackedFile(absolutePath)
	check, hasCheck := expectedHash, expectedHash != ""
	if !hasCheck {
		check, hasCheck = c.tracker.SessionExpectedHash(sessionID, absolutePath)
	}

	if tracked != nil && hasCheck && tracked.CurrentHash != check {
		conflict, err := c.buildConcurrentWriteConflict(tracked, absolutePath, sessionID, instanceID, content, newHash, isBinary)
		if err != nil {
			return WriteResult{}, err
		}
		c.addConflict(conflict)
		c.publishConflict(conflict)
		return WriteResult{Success: false, Hash: newHash, Conflict: conflict}, nil
	}

	if err := diskio.WriteFile(absolutePath, content); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %s", coorderr.ErrIoWrite, err)
	}

	previousHash := ""
	if tracked != nil {
		previousHash = tracked.CurrentHash
	}
	affected := affectedSessions(tracked, sessionID)

	c.tracker.RegisterWrite(absolutePath, sessionID, instanceID, content, newHash, isBinary)

	c.bus.Publish(Event{
		Type: EventFileChanged,
		FileChanged: &FileChangedPayload{
			FilePath:         c.relativePath(absolutePath),
			AbsolutePath:     absolutePath,
			ChangeType:       "change",
			SessionID:        sessionID,
			InstanceID:       instanceID,
			Hash:             newHash,
			PreviousHash:     previousHash,
			Timestamp:        time.Now(),
			AffectedSessions: affected,
		},
	})

	return WriteResult{Success: true, Hash: newHash}, nil
}

func (c *Coordinator) buildConcurrentWriteConflict(tracked *tracker.TrackedFile, absolutePath, sessionID, instanceID string, content []byte, newHash string, isBinary bool) (*Conflict, error) {
	theirsContent, err := diskio.ReadFile(absolutePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", coorderr.ErrIoRead, err)
	}

	base := oldestCachedContent(c.tracker.GetFileHistory(absolutePath))
	result := c.merger.Merge(absolutePath, base, string(content), string(theirsContent))

	now := time.Now()
	return &Conflict{
		ConflictID:   uuid.NewString(),
		FilePath:     c.relativePath(absolutePath),
		AbsolutePath: absolutePath,
		Timestamp:    now,
		Kind:         ConflictConcurrentWrite,
		InvolvedSessions: []InvolvedSession{
			{SessionID: sessionID, InstanceID: instanceID, Hash: newHash, Timestamp: now},
			{SessionID: lastWriterSessionID(tracked), InstanceID: "", Hash: tracked.CurrentHash, Timestamp: now},
		},
		MergeResult: MergeOutcome{
			CanAutoMerge:  result.Success,
			MergedContent: result.Merged,
			Conflicts:     result.Conflicts,
		},
		IsBinary: isBinary,
	}, nil
}

// handleFileChange consumes an event from the watcher. Events tagged
// agent-report are the coordinator's own writes echoing back and are
// skipped.
func (c *Coordinator) handleFileChange(event watcher.FileChangeEvent) error {
	if event.DetectedBy == watcher.DetectedByAgentReport {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tracked := c.tracker.GetTrackedFile(event.AbsolutePath)
	if tracked == nil || len(tracked.Readers) == 0 {
		return nil
	}

	if event.Type == watcher.ChangeUnlink {
		c.publishChangeToReaders(tracked, event.AbsolutePath, "unlink", "")
		c.tracker.UntrackFile(event.AbsolutePath)
		return nil
	}

	diskContent, err := diskio.ReadFile(event.AbsolutePath)
	if err != nil {
		logging.Warn("coordinator: read failed during handleFileChange", "path", event.AbsolutePath, "error", err.Error())
		return nil
	}

	newHash := c.tracker.ComputeHash(diskContent)
	if newHash == tracked.CurrentHash {
		return nil // noise: disk content matches what the tracker already knows
	}

	var conflictingSessions []string
	for sessionID := range tracked.Readers {
		expected, ok := c.tracker.SessionExpectedHash(sessionID, event.AbsolutePath)
		if ok && expected != newHash {
			conflictingSessions = append(conflictingSessions, sessionID)
		}
	}

	if len(conflictingSessions) > 0 {
		first := conflictingSessions[0]
		expected, _ := c.tracker.SessionExpectedHash(first, event.AbsolutePath)
		version := c.tracker.GetVersionByHash(event.AbsolutePath, expected)
		if version != nil && version.HasContent {
			conflict := c.buildExternalChangeConflict(tracked, event.AbsolutePath, first, version, diskContent, newHash)
			c.addConflict(conflict)
			c.publishConflict(conflict)
			return nil
		}
	}

	c.publishChangeToReaders(tracked, event.AbsolutePath, string(event.Type), newHash)
	isBinary := binary.Detect(diskContent, event.AbsolutePath).IsBinary
	c.tracker.RegisterWrite(event.AbsolutePath, tracker.ExternalSessionID, "watcher", diskContent, newHash, isBinary)
	return nil
}

func (c *Coordinator) buildExternalChangeConflict(tracked *tracker.TrackedFile, absolutePath, sessionID string, version *tracker.FileVersion, diskContent []byte, newHash string) *Conflict {
	base := oldestCachedContent(c.tracker.GetFileHistory(absolutePath))
	result := c.merger.Merge(absolutePath, base, version.Content, string(diskContent))

	now := time.Now()
	return &Conflict{
		ConflictID:   uuid.NewString(),
		FilePath:     c.relativePath(absolutePath),
		AbsolutePath: absolutePath,
		Timestamp:    now,
		Kind:         ConflictExternalChange,
		InvolvedSessions: []InvolvedSession{
			{SessionID: sessionID, InstanceID: version.InstanceID, Hash: version.Hash, Timestamp: now},
			{SessionID: tracker.ExternalSessionID, InstanceID: "watcher", Hash: newHash, Timestamp: now},
		},
		MergeResult: MergeOutcome{
			CanAutoMerge:  result.Success,
			MergedContent: result.Merged,
			Conflicts:     result.Conflicts,
		},
		IsBinary: tracked.IsBinary,
	}
}

// ResolveConflict applies resolution to an active conflict and clears it.
func (c *Coordinator) ResolveConflict(conflictID string, resolution Resolution, resolvedBy string, content *string) (ResolveResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conflictsMu.RLock()
	conflict, ok := c.byID[conflictID]
	c.conflictsMu.RUnlock()
	if !ok {
		return ResolveResult{}, fmt.Errorf("%w: conflict %s", coorderr.ErrNotFound, conflictID)
	}

	resolvedContent, err := c.deriveResolvedContent(conflict, resolution, content)
	if err != nil {
		return ResolveResult{}, err
	}

	if err := diskio.WriteFile(conflict.AbsolutePath, []byte(resolvedContent)); err != nil {
		return ResolveResult{}, fmt.Errorf("%w: %s", coorderr.ErrIoWrite, err)
	}

	newHash := c.tracker.ComputeHash([]byte(resolvedContent))
	c.tracker.RegisterWrite(conflict.AbsolutePath, resolvedBy, "resolution", []byte(resolvedContent), newHash, conflict.IsBinary)

	for _, involved := range conflict.InvolvedSessions {
		if involved.SessionID == tracker.ExternalSessionID {
			continue
		}
		c.tracker.SetSessionExpectedHash(involved.SessionID, conflict.AbsolutePath, newHash)
	}

	c.removeConflict(conflict)
	c.bus.Publish(Event{
		Type: EventFileConflictResolved,
		ConflictResolved: &ConflictResolvedPayload{
			ConflictID: conflict.ConflictID,
			FilePath:   conflict.FilePath,
			Resolution: resolution,
			ResolvedBy: resolvedBy,
			NewHash:    newHash,
			Timestamp:  time.Now(),
		},
	})

	return ResolveResult{Success: true, NewHash: newHash}, nil
}

func (c *Coordinator) deriveResolvedContent(conflict *Conflict, resolution Resolution, content *string) (string, error) {
	switch resolution {
	case ResolutionAutoMerged:
		if conflict.IsBinary {
			return "", fmt.Errorf("%w: %s", coorderr.ErrBinaryUnmergeable, conflict.FilePath)
		}
		if !conflict.MergeResult.CanAutoMerge {
			return "", fmt.Errorf("%w: auto-merge was not possible for this conflict", coorderr.ErrPrecondition)
		}
		return conflict.MergeResult.MergedContent, nil

	case ResolutionKeepOurs:
		for _, involved := range conflict.InvolvedSessions {
			if involved.SessionID == tracker.ExternalSessionID {
				continue
			}
			version := c.tracker.GetVersionByHash(conflict.AbsolutePath, involved.Hash)
			if version != nil && version.HasContent {
				return version.Content, nil
			}
			return "", fmt.Errorf("%w: no cached content for the keep-ours session", coorderr.ErrPrecondition)
		}
		return "", fmt.Errorf("%w: no non-external session to keep", coorderr.ErrPrecondition)

	case ResolutionKeepTheirs:
		diskContent, err := diskio.ReadFile(conflict.AbsolutePath)
		if err != nil {
			return "", fmt.Errorf("%w: %s", coorderr.ErrIoRead, err)
		}
		return string(diskContent), nil

	case ResolutionManual:
		if content == nil {
			return "", fmt.Errorf("%w: manual resolution requires content", coorderr.ErrPrecondition)
		}
		return *content, nil

	default:
		return "", fmt.Errorf("%w: unknown resolution %q", coorderr.ErrPrecondition, resolution)
	}
}

// UnregisterSession removes sessionID from all tracked files.
func (c *Coordinator) UnregisterSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.UnregisterSession(sessionID)
}

func (c *Coordinator) publishConflict(conflict *Conflict) {
	c.bus.Publish(Event{
		Type: EventFileConflict,
		Conflict: &ConflictPayload{
			ConflictID:       conflict.ConflictID,
			FilePath:         conflict.FilePath,
			AbsolutePath:     conflict.AbsolutePath,
			ConflictType:     conflict.Kind,
			InvolvedSessions: conflict.InvolvedSessions,
			MergeResult:      conflict.MergeResult,
			Timestamp:        conflict.Timestamp,
		},
	})
}

func (c *Coordinator) publishChangeToReaders(tracked *tracker.TrackedFile, absolutePath, changeType, newHash string) {
	affected := make([]string, 0, len(tracked.Readers))
	for s := range tracked.Readers {
		affected = append(affected, s)
	}
	c.bus.Publish(Event{
		Type: EventFileChanged,
		FileChanged: &FileChangedPayload{
			FilePath:         c.relativePath(absolutePath),
			AbsolutePath:     absolutePath,
			ChangeType:       changeType,
			SessionID:        tracker.ExternalSessionID,
			InstanceID:       "watcher",
			Hash:             newHash,
			PreviousHash:     tracked.CurrentHash,
			Timestamp:        time.Now(),
			AffectedSessions: affected,
		},
	})
}

func (c *Coordinator) relativePath(absolutePath string) string {
	rel, err := filepath.Rel(c.root, absolutePath)
	if err != nil {
		return absolutePath
	}
	return filepath.ToSlash(rel)
}

func affectedSessions(tracked *tracker.TrackedFile, exclude string) []string {
	if tracked == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for s := range tracked.Readers {
		seen[s] = struct{}{}
	}
	for s := range tracked.Writers {
		seen[s] = struct{}{}
	}
	delete(seen, exclude)

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	return out
}

func oldestCachedContent(history []tracker.FileVersion) string {
	if len(history) == 0 {
		return ""
	}
	if history[0].HasContent {
		return history[0].Content
	}
	return ""
}

func lastWriterSessionID(tracked *tracker.TrackedFile) string {
	for s := range tracked.Writers {
		return s
	}
	return tracker.ExternalSessionID
}
