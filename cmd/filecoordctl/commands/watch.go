package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anthropics/filecoord/internal/cliui"
	"github.com/anthropics/filecoord/internal/coordinator"
)

func init() {
	register(func(root *cobra.Command) { root.AddCommand(newWatchCmd()) })
}

func newWatchCmd() *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace and print change/conflict events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				cliui.Disable()
			}

			c, root, err := openCoordinator()
			if err != nil {
				return exitWithError(err)
			}

			unsubscribe := c.Subscribe(func(e coordinator.Event) {
				printEvent(e)
			})
			defer unsubscribe()

			if err := c.Start(); err != nil {
				return exitWithError(fmt.Errorf("starting watcher: %w", err))
			}
			defer c.Stop()

			fmt.Printf("%s %s\n", cliui.Bold("watching"), root)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			fmt.Println("\nstopping")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func printEvent(e coordinator.Event) {
	switch e.Type {
	case coordinator.EventFileChanged:
		p := e.FileChanged
		fmt.Printf("%s %s (%s) by %s\n", cliui.Green("changed"), p.FilePath, p.ChangeType, p.SessionID)
	case coordinator.EventFileConflict:
		p := e.Conflict
		fmt.Printf("%s %s [%s] id=%s\n", cliui.Red("conflict"), p.FilePath, cliui.ConflictKindLabel(p.ConflictType), p.ConflictID)
	case coordinator.EventFileConflictResolved:
		p := e.ConflictResolved
		fmt.Printf("%s %s via %s\n", cliui.Green("resolved"), p.FilePath, p.Resolution)
	}
}
