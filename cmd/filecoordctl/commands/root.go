package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthropics/filecoord/internal/logging"
)

var (
	Version   = "0.0.1"
	BuildTime = "dev"
	GitCommit = "unknown"
)

var (
	logLevel string
	logJSON  bool
)

var rootCmd = newRootCmd()

type registrar func(*cobra.Command)

var registrars []registrar

func register(r registrar) {
	registrars = append(registrars, r)
	if rootCmd != nil {
		r(rootCmd)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filecoordctl",
		Short: "Coordinate concurrent file edits across AI coding sessions",
		Long: `filecoordctl drives a per-workspace conflict detector that tracks which
files each agent session has read and written, watches the filesystem for
changes made outside those sessions, and three-way merges or flags the
result as a conflict when two sources disagree about the same file.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logging.Config{Level: logging.Level(logLevel), JSONFormat: logJSON})
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug|info|warn|error")
	cmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	return cmd
}

func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	for _, r := range registrars {
		r(cmd)
	}
	return cmd
}

func Execute() error {
	return rootCmd.Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("filecoordctl version %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}
}

func init() {
	register(func(root *cobra.Command) { root.AddCommand(newVersionCmd()) })
}

func exitWithError(err error) error {
	fmt.Fprintln(os.Stderr, "Error:", err)
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return SilentExit(1)
}
