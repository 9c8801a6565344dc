// Package plugin implements the derived pipeline: isolated worker spawn,
// RPC, wall-clock timeout, circuit breaker, and staleness-guarded commit of
// enrichments and attachments (spec §4.5). Worker-spawn mechanics (context
// timeout + captured output) are grounded on internal/backup/plugins.go's
// RunPlugins, generalized from a shell backup hook to a JSON-RPC-over-stdio
// worker; the non-fatal per-plugin failure isolation is the same pattern.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/leonletto/agentlip/internal/model"
)

// Kind selects which RPC the worker performs.
type Kind string

const (
	KindLinkifier Kind = "linkifier"
	KindExtractor Kind = "extractor"
)

// Config describes one configured plugin.
type Config struct {
	Name    string
	Kind    Kind
	Command string        // run via "sh -c"; the RPC request travels over stdin, not argv
	Timeout time.Duration // wall-clock timeout, default 5s (spec §4.5, §5)
}

// Span is a half-open [Start,End) byte range into the message's content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// LinkifierItem is one element of a linkifier's output sequence.
type LinkifierItem struct {
	Kind string          `json:"kind"`
	Span Span            `json:"span"`
	Data json.RawMessage `json:"data"`
}

// ExtractorItem is one element of an extractor's output sequence.
type ExtractorItem struct {
	Kind      string          `json:"kind"`
	Key       string          `json:"key,omitempty"`
	ValueJSON json.RawMessage `json:"value_json"`
	DedupeKey string          `json:"dedupe_key,omitempty"`
}

// rpcInput is sent to the worker on stdin.
type rpcInput struct {
	Type  Kind   `json:"type"`
	Input string `json:"input"` // the message's content_raw; path-blind, no workspace directory
}

// rpcOutput is the worker's stdout, one of Linkifier or Extractor populated
// depending on the request's Type.
type rpcOutput struct {
	Linkifier []LinkifierItem `json:"linkifier,omitempty"`
	Extractor []ExtractorItem `json:"extractor,omitempty"`
}

// runWorker spawns cfg.Command, writes the RPC request to its stdin, and
// parses its stdout. The timeout pattern mirrors RunPlugins'
// exec.CommandContext usage; unlike a backup hook a
// plugin worker's stdout is significant output, not a log, so stdout and
// stderr are captured separately.
func runWorker(ctx context.Context, cfg Config, content string) (rpcOutput, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := json.Marshal(rpcInput{Type: cfg.Kind, Input: content})
	if err != nil {
		return rpcOutput{}, fmt.Errorf("%w: marshal rpc input: %v", model.ErrPluginExecution, err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.Command) //nolint:gosec // G204 - cfg.Command is operator configuration, not request input, mirrors RunPlugins' shell invocation
	cmd.Stdin = bytes.NewReader(req)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return rpcOutput{}, model.ErrPluginTimeout
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return rpcOutput{}, fmt.Errorf("%w: %s", model.ErrPluginWorkerCrash, stderr.String())
		}
		return rpcOutput{}, fmt.Errorf("%w: %v", model.ErrPluginLoadError, runErr)
	}

	var out rpcOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return rpcOutput{}, fmt.Errorf("%w: %v", model.ErrPluginInvalidOutput, err)
	}
	return out, nil
}

// validateLinkifierOutput enforces spec §4.5's output-validation rule: any
// item failing validation fails the whole output.
func validateLinkifierOutput(items []LinkifierItem) error {
	for _, it := range items {
		if it.Kind == "" {
			return fmt.Errorf("%w: linkifier item missing kind", model.ErrPluginInvalidOutput)
		}
		if it.Span.Start < 0 || it.Span.End < it.Span.Start {
			return fmt.Errorf("%w: linkifier item has invalid span", model.ErrPluginInvalidOutput)
		}
		if len(it.Data) == 0 {
			return fmt.Errorf("%w: linkifier item missing data", model.ErrPluginInvalidOutput)
		}
	}
	return nil
}

func validateExtractorOutput(items []ExtractorItem) error {
	for _, it := range items {
		if it.Kind == "" {
			return fmt.Errorf("%w: extractor item missing kind", model.ErrPluginInvalidOutput)
		}
		if len(it.ValueJSON) == 0 {
			return fmt.Errorf("%w: extractor item missing value_json", model.ErrPluginInvalidOutput)
		}
	}
	return nil
}
