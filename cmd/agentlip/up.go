package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/leonletto/agentlip/internal/config"
	"github.com/leonletto/agentlip/internal/daemon"
	"github.com/leonletto/agentlip/internal/model"
	"github.com/leonletto/agentlip/internal/workspace"
	"github.com/spf13/cobra"
)

func upCmd() *cobra.Command {
	var (
		workspacePath  string
		host           string
		port           int
		idleShutdownMS int
		unsafe         bool
		jsonOut        bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the daemon for this workspace and block until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.Find(workspacePath)
			if err != nil {
				abs, absErr := absPath(workspacePath)
				if absErr != nil {
					printUpError(jsonOut, absErr)
					os.Exit(1)
				}
				ws, err = workspace.Init(abs)
				if err != nil {
					printUpError(jsonOut, err)
					os.Exit(1)
				}
			}

			cfg := config.Default()
			wc, err := config.LoadWorkspaceConfig(ws.MarkerDir)
			if err != nil {
				printUpError(jsonOut, err)
				os.Exit(1)
			}
			cfg = cfg.ApplyWorkspaceConfig(wc).ApplyEnv()
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("idle-shutdown-ms") {
				cfg.IdleShutdownMS = idleShutdownMS
			}
			if unsafe {
				cfg.Unsafe = true
			}

			if err := cfg.ValidateBind(); err != nil {
				printUpError(jsonOut, err)
				os.Exit(1)
			}

			lc := daemon.NewLifecycle(cfg, ws)
			err = lc.Run(context.Background())
			if err != nil {
				printUpError(jsonOut, err)
				if errors.Is(err, model.ErrWriterLockHeld) || isLockHeldErr(err) {
					os.Exit(10)
				}
				os.Exit(1)
			}
			if jsonOut {
				_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"status": "stopped"})
			}
			os.Exit(0)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspacePath, "workspace", ".", "workspace path")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "bind host")
	cmd.Flags().IntVar(&port, "port", 0, "bind port (0 = ephemeral)")
	cmd.Flags().IntVar(&idleShutdownMS, "idle-shutdown-ms", 0, "shut down N ms after startup; the timer is not reset by activity (0 = disabled)")
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "allow binding to a non-loopback host")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

// isLockHeldErr matches on the AcquireLock error text rather than a
// sentinel, since flock_unix.go's AcquireLock predates model's error
// kinds and returns a plain fmt.Errorf.
func isLockHeldErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "lock held")
}

func printUpError(jsonOut bool, err error) {
	if jsonOut {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"status": "error", "error": err.Error()})
		return
	}
	fmt.Fprintf(os.Stderr, "agentlip up: %v\n", err)
}
