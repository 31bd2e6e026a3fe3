package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func init() {
	register(func(root *cobra.Command) {
		root.AddCommand(newRegisterReadCmd())
		root.AddCommand(newRegisterWriteCmd())
		root.AddCommand(newSessionsCmd())
	})
}

func newRegisterReadCmd() *cobra.Command {
	var sessionID, instanceID string

	cmd := &cobra.Command{
		Use:   "register-read <file>",
		Short: "Read a file on behalf of a session, recording it as an active reader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			c, _, err := openCoordinator()
			if err != nil {
				return exitWithError(err)
			}

			hash, content, err := c.RegisterRead(abs, sessionID, instanceID)
			if err != nil {
				return exitWithError(err)
			}

			fmt.Printf("hash: %s\n", hash)
			fmt.Printf("bytes: %d\n", len(content))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session ID performing the read")
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance ID within the session")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("instance")
	return cmd
}

func newRegisterWriteCmd() *cobra.Command {
	var sessionID, instanceID, contentFile, expectedHash string

	cmd := &cobra.Command{
		Use:   "register-write <file>",
		Short: "Write a file on behalf of a session, checking for staleness first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			content, err := os.ReadFile(contentFile)
			if err != nil {
				return exitWithError(fmt.Errorf("reading --content-file: %w", err))
			}

			c, _, err := openCoordinator()
			if err != nil {
				return exitWithError(err)
			}

			result, err := c.RegisterWrite(abs, sessionID, instanceID, content, expectedHash)
			if err != nil {
				return exitWithError(err)
			}

			if !result.Success {
				fmt.Println("conflict: concurrent-write detected, write rejected")
				if result.Conflict != nil {
					fmt.Printf("conflict-id: %s\n", result.Conflict.ConflictID)
				}
				return SilentExit(2)
			}

			fmt.Printf("hash: %s\n", result.Hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session ID performing the write")
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance ID within the session")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "path to a file holding the new content")
	cmd.Flags().StringVar(&expectedHash, "expected-hash", "", "expected current hash (defaults to the session's last known hash)")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("instance")
	cmd.MarkFlagRequired("content-file")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions known to this workspace's tracker",
	}
	parent.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List sessions with at least one tracked file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := openCoordinator()
			if err != nil {
				return exitWithError(err)
			}
			for _, id := range c.GetTracker().Sessions() {
				fmt.Println(id)
			}
			return nil
		},
	})
	return parent
}
