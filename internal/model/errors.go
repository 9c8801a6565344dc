package model

import "errors"

// Error kinds named in spec §7. httpapi and wsfanout map these to status
// codes and the {error, code, details?} wire shape; they are never
// constructed with request-body content embedded in the message.
var (
	ErrMissingAuth      = errors.New("missing authorization header")
	ErrInvalidAuth      = errors.New("invalid bearer token")
	ErrNoAuthConfigured = errors.New("no auth token configured")
	ErrInvalidInput     = errors.New("invalid input")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrNotFound         = errors.New("not found")
	ErrCrossChannelMove = errors.New("cannot move message across channels")
	ErrRateLimited      = errors.New("rate limited")
	ErrShuttingDown     = errors.New("server shutting down")
	ErrInternal         = errors.New("internal error")

	ErrMessageDeleted = errors.New("message already deleted")
	ErrTopicNotFound   = errors.New("topic not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrMessageNotFound = errors.New("message not found")

	ErrWriterLockHeld = errors.New("writer lock held by another process")
	ErrBindUnsafe     = errors.New("refusing non-loopback bind without unsafe override")
)

// VersionConflictError carries the current version so callers can report
// {code:"VERSION_CONFLICT", details:{current:N}}.
type VersionConflictError struct {
	Current int
}

func (e *VersionConflictError) Error() string {
	return "version conflict"
}

// Code returns the wire error code for the {error, code, details?} shape.
func (e *VersionConflictError) Code() string { return "VERSION_CONFLICT" }

// Staleness guard failure reasons (spec §4.5, §7). These are never surfaced
// to HTTP/WS clients directly — they are logged and the commit is silently
// discarded per the propagation policy.
var (
	ErrStaleMissing = errors.New("message missing at commit time")
	ErrStaleDeleted = errors.New("message deleted at commit time")
	ErrStaleVersion = errors.New("message version changed since snapshot")
	ErrStaleContent = errors.New("message content changed since snapshot")
)

// Plugin failure classes (spec §4.5, §7).
var (
	ErrPluginTimeout       = errors.New("plugin timed out")
	ErrPluginLoadError     = errors.New("plugin failed to load")
	ErrPluginWorkerCrash   = errors.New("plugin worker crashed")
	ErrPluginInvalidOutput = errors.New("plugin produced invalid output")
	ErrPluginCircuitOpen   = errors.New("plugin circuit open")
	ErrPluginExecution     = errors.New("plugin execution error")
)
