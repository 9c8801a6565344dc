package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/leonletto/agentlip/internal/daemon"
	"github.com/leonletto/agentlip/internal/workspace"
	"github.com/spf13/cobra"
)

// downCmd sends SIGTERM to the daemon recorded in server.json and waits
// (bounded) for the writer lock to clear (SPEC_FULL §8.1, grounded on the
// teacher's signal-driven shutdown invoked from the client side in
// internal/cli/daemon.go's DaemonStop).
func downCmd() *cobra.Command {
	var workspacePath string
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the daemon running for this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.Find(workspacePath)
			if err != nil {
				return fmt.Errorf("find workspace: %w", err)
			}
			h, err := daemon.ReadHandoff(ws.HandoffPath())
			if err != nil {
				return fmt.Errorf("daemon is not running: %w", err)
			}

			proc, err := os.FindProcess(h.PID)
			if err != nil {
				return fmt.Errorf("find process %d: %w", h.PID, err)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal process %d: %w", h.PID, err)
			}

			deadline := time.After(time.Duration(timeoutSeconds) * time.Second)
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-deadline:
					return fmt.Errorf("timeout waiting for daemon (PID %d) to stop", h.PID)
				case <-ticker.C:
					if daemon.IsLocked(ws.WriterLockPath()) {
						continue
					}
					fmt.Fprintln(os.Stdout, "daemon stopped")
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&workspacePath, "workspace", ".", "workspace path")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 10, "seconds to wait for shutdown")
	return cmd
}
