package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthropics/filecoord/internal/cliui"
	"github.com/anthropics/filecoord/internal/coordinator"
)

func init() {
	register(func(root *cobra.Command) { root.AddCommand(newConflictsCmd()) })
}

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve active conflicts",
	}
	cmd.AddCommand(newConflictsListCmd())
	cmd.AddCommand(newConflictsResolveCmd())
	return cmd
}

func newConflictsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := openCoordinator()
			if err != nil {
				return exitWithError(err)
			}
			active := c.GetActiveConflicts()
			if len(active) == 0 {
				fmt.Println("no active conflicts")
				return nil
			}
			for _, conflict := range active {
				fmt.Println(cliui.FormatConflictSummary(conflict))
			}
			return nil
		},
	}
}

func newConflictsResolveCmd() *cobra.Command {
	var resolution, resolvedBy, contentFile string

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve an active conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := openCoordinator()
			if err != nil {
				return exitWithError(err)
			}

			var content *string
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return exitWithError(fmt.Errorf("reading --content-file: %w", err))
				}
				s := string(data)
				content = &s
			}

			result, err := c.ResolveConflict(args[0], coordinator.Resolution(resolution), resolvedBy, content)
			if err != nil {
				return exitWithError(err)
			}

			fmt.Println(cliui.FormatResolution(args[0], coordinator.Resolution(resolution), result.NewHash))
			return nil
		},
	}

	cmd.Flags().StringVar(&resolution, "resolution", "", "auto-merged|keep-ours|keep-theirs|manual")
	cmd.Flags().StringVar(&resolvedBy, "by", "", "session ID performing the resolution")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "path to manual resolution content (required for --resolution manual)")
	cmd.MarkFlagRequired("resolution")
	cmd.MarkFlagRequired("by")
	return cmd
}
