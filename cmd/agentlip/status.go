package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/leonletto/agentlip/internal/daemon"
	"github.com/leonletto/agentlip/internal/workspace"
	"github.com/spf13/cobra"
)

// statusOutput is the json-mode output shape spec §6 names exactly:
// {status, instance_id?, db_id?, schema_version?, protocol_version?, port?, pid?, uptime_seconds?, error?}.
type statusOutput struct {
	Status          string `json:"status"`
	InstanceID      string `json:"instance_id,omitempty"`
	DBID            string `json:"db_id,omitempty"`
	SchemaVersion   int    `json:"schema_version,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Port            int    `json:"port,omitempty"`
	PID             int    `json:"pid,omitempty"`
	UptimeSeconds   int    `json:"uptime_seconds,omitempty"`
	Error           string `json:"error,omitempty"`
}

func statusCmd() *cobra.Command {
	var workspacePath string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running for this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, out := runStatus(workspacePath)
			if jsonOut {
				_ = json.NewEncoder(os.Stdout).Encode(out)
			} else {
				printStatusText(out)
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspacePath, "workspace", ".", "workspace path")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

// runStatus implements spec §6's status contract: read server.json, call
// /health, compare the reported db_id against the on-disk workspace_meta.
// Exit codes: 0 running; 3 not running/unreachable/stale; 1 mismatch or
// other error.
func runStatus(workspacePath string) (int, statusOutput) {
	ws, err := workspace.Find(workspacePath)
	if err != nil {
		return 3, statusOutput{Status: "not_running", Error: err.Error()}
	}

	h, err := daemon.ReadHandoff(ws.HandoffPath())
	if err != nil {
		return 3, statusOutput{Status: "not_running", Error: "no server.json: " + err.Error()}
	}

	health, err := fetchHealth(h)
	if err != nil {
		return 3, statusOutput{Status: "unreachable", Error: err.Error()}
	}

	onDiskDBID, err := readOnDiskDBID(ws)
	if err != nil {
		return 1, statusOutput{Status: "error", Error: err.Error()}
	}
	if health.DBID != onDiskDBID {
		return 1, statusOutput{Status: "mismatch", DBID: health.DBID, Error: "reported db_id does not match on-disk workspace_meta"}
	}

	return 0, statusOutput{
		Status: "running", InstanceID: health.InstanceID, DBID: health.DBID,
		SchemaVersion: health.SchemaVersion, ProtocolVersion: health.ProtocolVersion,
		Port: h.Port, PID: health.PID, UptimeSeconds: health.UptimeSeconds,
	}
}

func printStatusText(out statusOutput) {
	if out.Error != "" {
		fmt.Fprintf(os.Stderr, "status: %s (%s)\n", out.Status, out.Error)
		return
	}
	fmt.Printf("status:   %s\n", out.Status)
	fmt.Printf("instance: %s\n", out.InstanceID)
	fmt.Printf("db_id:    %s\n", out.DBID)
	fmt.Printf("port:     %d\n", out.Port)
	fmt.Printf("pid:      %d\n", out.PID)
	fmt.Printf("uptime:   %ds\n", out.UptimeSeconds)
}
