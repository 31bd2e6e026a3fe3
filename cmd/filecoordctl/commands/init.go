package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anthropics/filecoord/internal/config"
)

func init() {
	register(func(root *cobra.Command) { root.AddCommand(newInitCmd()) })
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a .filecoord workspace marker in the given directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if err := config.Init(abs); err != nil {
				return exitWithError(err)
			}
			fmt.Printf("Initialized filecoord workspace at %s\n", abs)
			return nil
		},
	}
}
