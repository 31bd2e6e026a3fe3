// Package watcher is the filesystem watcher (C4): it recursively watches a
// workspace root with fsnotify, debounces bursty events per path, waits for
// writes to stabilize before reporting a change, and republishes everything
// through internal/eventbus so the coordinator can subscribe the same way
// any other collaborator would.
//
// Grounded on other_examples' jordigilh-kubernaut file_watcher.go: watch the
// containing directory rather than the file directly, drive the event loop
// from a single goroutine selecting on the fsnotify channels plus a stop
// channel, and close a doneCh so Stop can block until the loop has actually
// exited.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anthropics/filecoord/internal/eventbus"
	"github.com/anthropics/filecoord/internal/ignore"
	"github.com/anthropics/filecoord/internal/logging"
)

// ChangeType identifies what kind of change a FileChangeEvent reports.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "change"
	ChangeUnlink ChangeType = "unlink"
	ChangeRename ChangeType = "rename"
)

// DetectedBy distinguishes events the watcher observed itself from ones an
// API caller injected via ReportChange.
type DetectedBy string

const (
	DetectedByWatcher     DetectedBy = "watcher"
	DetectedByAgentReport DetectedBy = "agent-report"
)

// Stats carries a lightweight stat() snapshot alongside an event.
type Stats struct {
	Size    int64
	ModTime time.Time
}

// FileChangeEvent is the payload published for every observed or reported
// filesystem change.
type FileChangeEvent struct {
	Type         ChangeType
	Path         string // workspace-relative
	AbsolutePath string
	Timestamp    time.Time
	Stats        *Stats
	DetectedBy   DetectedBy
}

// State is a watcher's lifecycle stage.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateStopping State = "stopping"
)

// Config controls watcher behavior.
type Config struct {
	Root               string
	Ignore             *ignore.Matcher
	DebounceWindow     time.Duration
	StabilityThreshold time.Duration
	PollInterval       time.Duration
}

const (
	DefaultDebounceWindow     = 150 * time.Millisecond
	DefaultStabilityThreshold = 300 * time.Millisecond
	DefaultPollInterval       = 50 * time.Millisecond
)

// DefaultConfig returns the watcher's documented defaults for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:               root,
		Ignore:             ignore.NewMatcher(ignore.DefaultPatterns),
		DebounceWindow:     DefaultDebounceWindow,
		StabilityThreshold: DefaultStabilityThreshold,
		PollInterval:       DefaultPollInterval,
	}
}

type pendingEvent struct {
	timer      *time.Timer
	changeType ChangeType
}

// Watcher watches cfg.Root recursively and publishes FileChangeEvents.
type Watcher struct {
	cfg Config
	bus *eventbus.Bus[FileChangeEvent]

	mu      sync.Mutex
	state   State
	fsw     *fsnotify.Watcher
	timers  map[string]*pendingEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Watcher in the stopped state.
func New(cfg Config) *Watcher {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = DefaultStabilityThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Ignore == nil {
		cfg.Ignore = ignore.NewMatcher(ignore.DefaultPatterns)
	}
	return &Watcher{
		cfg:    cfg,
		bus:    eventbus.New[FileChangeEvent](),
		state:  StateStopped,
		timers: make(map[string]*pendingEvent),
	}
}

// State returns the watcher's current lifecycle stage.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe registers a handler for every published event.
func (w *Watcher) Subscribe(handler func(FileChangeEvent)) eventbus.Unsubscribe {
	return w.bus.Subscribe(handler)
}

// Start brings the watcher up: stopped -> starting -> ready. Calling Start
// on an already-running watcher is a no-op with a warning.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		logging.Warn("watcher: start called while not stopped", "state", string(w.state))
		return nil
	}
	w.state = StateStarting
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.setState(StateStopped)
		return fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	if err := addDirsRecursive(fsw, w.cfg.Root, w.cfg.Ignore); err != nil {
		fsw.Close()
		w.setState(StateStopped)
		return fmt.Errorf("watcher: watch %s: %w", w.cfg.Root, err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.state = StateReady
	w.mu.Unlock()

	go w.loop()

	logging.Info("watcher: started", "root", w.cfg.Root)
	return nil
}

// Stop tears the watcher down: ready -> stopping -> stopped. Pending
// debounce timers are cancelled without emitting.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != StateReady && w.state != StateStarting {
		w.mu.Unlock()
		return
	}
	w.state = StateStopping
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.mu.Lock()
	if w.fsw != nil {
		if err := w.fsw.Close(); err != nil {
			logging.Warn("watcher: error closing fsnotify watcher", "error", err.Error())
		}
	}
	for _, p := range w.timers {
		p.timer.Stop()
	}
	w.timers = make(map[string]*pendingEvent)
	w.state = StateStopped
	w.mu.Unlock()

	logging.Info("watcher: stopped")
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// ReportChange manually injects an event tagged agent-report, used by the
// coordinator to describe its own writes without waiting on the fsnotify
// round-trip.
func (w *Watcher) ReportChange(changeType ChangeType, absolutePath string, stats *Stats) {
	rel := w.relativePath(absolutePath)
	w.bus.Publish(FileChangeEvent{
		Type:         changeType,
		Path:         rel,
		AbsolutePath: absolutePath,
		Timestamp:    time.Now(),
		Stats:        stats,
		DetectedBy:   DetectedByAgentReport,
	})
}

func (w *Watcher) relativePath(absolutePath string) string {
	rel, err := filepath.Rel(w.cfg.Root, absolutePath)
	if err != nil {
		return absolutePath
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFsnotifyEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher: fsnotify error", "error", err.Error())
		}
	}
}

func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	rel := w.relativePath(event.Name)
	if !w.cfg.Ignore.ShouldInclude(rel, isProbablyDir(event.Name)) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addDirsRecursive(w.fsw, event.Name, w.cfg.Ignore); err != nil {
				logging.Warn("watcher: failed to watch new directory", "path", event.Name, "error", err.Error())
			}
		}
		w.scheduleDebounced(event.Name, ChangeAdd)

	case event.Has(fsnotify.Write):
		w.scheduleDebounced(event.Name, ChangeModify)

	case event.Has(fsnotify.Remove):
		w.scheduleDebounced(event.Name, ChangeUnlink)

	case event.Has(fsnotify.Rename):
		// The source side of a rename: fsnotify does not guarantee a
		// matching Create for the destination arrives on this watch (it
		// may land outside the watched tree), so the spec's open question
		// on rename handling is resolved here by treating it as an
		// unlink of the old path; any Create that does follow is handled
		// on its own.
		w.scheduleDebounced(event.Name, ChangeUnlink)
	}
}

// scheduleDebounced coalesces events within cfg.DebounceWindow per path,
// replacing any pending type with the most recent one.
func (w *Watcher) scheduleDebounced(absolutePath string, changeType ChangeType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.timers[absolutePath]; ok {
		existing.timer.Stop()
		existing.changeType = changeType
		existing.timer = time.AfterFunc(w.cfg.DebounceWindow, func() { w.fireDebounced(absolutePath) })
		return
	}

	p := &pendingEvent{changeType: changeType}
	p.timer = time.AfterFunc(w.cfg.DebounceWindow, func() { w.fireDebounced(absolutePath) })
	w.timers[absolutePath] = p
}

func (w *Watcher) fireDebounced(absolutePath string) {
	w.mu.Lock()
	p, ok := w.timers[absolutePath]
	if ok {
		delete(w.timers, absolutePath)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	changeType := p.changeType
	if changeType == ChangeAdd || changeType == ChangeModify {
		if !w.waitForStability(absolutePath) {
			// File disappeared while waiting for it to stabilize; drop the
			// event rather than report a change.
			return
		}
	}

	var stats *Stats
	if info, err := os.Stat(absolutePath); err == nil {
		stats = &Stats{Size: info.Size(), ModTime: info.ModTime()}
	} else if changeType != ChangeUnlink {
		changeType = ChangeUnlink
	}

	w.bus.Publish(FileChangeEvent{
		Type:         changeType,
		Path:         w.relativePath(absolutePath),
		AbsolutePath: absolutePath,
		Timestamp:    time.Now(),
		Stats:        stats,
		DetectedBy:   DetectedByWatcher,
	})
}

// waitForStability polls the file's size every cfg.PollInterval and
// reports it stable as soon as two consecutive polls agree. If the size is
// still changing once cfg.StabilityThreshold has elapsed, it reports the
// file stable anyway. Returns false if the file vanished before stabilizing.
func (w *Watcher) waitForStability(absolutePath string) bool {
	deadline := time.Now().Add(w.cfg.StabilityThreshold)
	var lastSize int64 = -1

	for {
		info, err := os.Stat(absolutePath)
		if err != nil {
			return false
		}
		if info.Size() == lastSize {
			return true
		}
		lastSize = info.Size()
		if time.Now().After(deadline) {
			return true
		}
		time.Sleep(w.cfg.PollInterval)
	}
}

func isProbablyDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// addDirsRecursive adds root and every non-ignored subdirectory to fsw.
func addDirsRecursive(fsw *fsnotify.Watcher, root string, matcher *ignore.Matcher) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." {
			if !matcher.ShouldInclude(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
		return nil
	})
}

// Root returns the workspace root this watcher covers.
func (w *Watcher) Root() string {
	return w.cfg.Root
}
