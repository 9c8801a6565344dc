package main

import (
	"fmt"
	"os"

	"github.com/leonletto/agentlip/internal/store"
	"github.com/leonletto/agentlip/internal/workspace"
	"github.com/spf13/cobra"
)

// initCmd creates the marker directory and database so `up` has somewhere
// to bind (SPEC_FULL §8.1, grounded on the teacher's initCmd()).
func initCmd() *cobra.Command {
	var workspacePath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace marker directory and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := absPath(workspacePath)
			if err != nil {
				return err
			}
			ws, err := workspace.Init(abs)
			if err != nil {
				return fmt.Errorf("init workspace: %w", err)
			}
			st, err := store.Open(ws.DBPath())
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer st.Close()

			fmt.Fprintf(os.Stdout, "initialized workspace at %s\n", ws.MarkerDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspacePath, "workspace", ".", "workspace path")
	return cmd
}
