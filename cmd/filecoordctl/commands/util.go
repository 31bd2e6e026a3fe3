package commands

import (
	"fmt"
	"os"

	"github.com/anthropics/filecoord/internal/config"
	"github.com/anthropics/filecoord/internal/coordinator"
	"github.com/anthropics/filecoord/internal/ignore"
	"github.com/anthropics/filecoord/internal/merge"
	"github.com/anthropics/filecoord/internal/registry"
	"github.com/anthropics/filecoord/internal/tracker"
	"github.com/anthropics/filecoord/internal/watcher"
)

// openCoordinator finds the enclosing workspace from cwd, loads its config,
// and builds a fresh Coordinator wired to that workspace's policy knobs.
// Each CLI invocation gets its own in-memory tracker/conflict state: this
// command surface is for manual testing and demos, not a long-lived daemon.
func openCoordinator() (*coordinator.Coordinator, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}

	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		return nil, "", fmt.Errorf("not in a filecoord workspace - run 'filecoordctl init' first")
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	matcher, err := ignore.LoadFromDir(root)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load ignore patterns: %w", err)
	}

	tr := tracker.New(cfg.ToTrackerConfig())
	merger := merge.New()
	w := watcher.New(cfg.ToWatcherConfig(root, matcher))
	reg := registry.New()

	return coordinator.New(root, reg, tr, merger, w), root, nil
}
