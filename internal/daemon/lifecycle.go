package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/leonletto/agentlip/internal/config"
	"github.com/leonletto/agentlip/internal/eventlog"
	"github.com/leonletto/agentlip/internal/httpapi"
	"github.com/leonletto/agentlip/internal/model"
	"github.com/leonletto/agentlip/internal/mutate"
	"github.com/leonletto/agentlip/internal/plugin"
	"github.com/leonletto/agentlip/internal/ratelimit"
	"github.com/leonletto/agentlip/internal/store"
	"github.com/leonletto/agentlip/internal/workspace"
	"github.com/leonletto/agentlip/internal/wsfanout"
)

// ProtocolVersion is the wire protocol version reported in /health and
// server.json (spec §6).
const ProtocolVersion = "1"

// Lifecycle owns one daemon run: acquiring the writer lock, opening the
// store, starting the HTTP and WebSocket servers, writing the handoff
// file, and tearing all of it down in order on shutdown. Grounded on the
// teacher's internal/daemon/lifecycle.go Lifecycle — the signal handling,
// shutdownCh/sync.Once, and the "defer covers every exit path" structure
// are kept; the Unix-socket server and PID file are replaced with the
// HTTP/WS servers and the server.json handoff this spec requires.
type Lifecycle struct {
	cfg config.Config
	ws  workspace.Workspace

	lock *FileLock

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	httpServer *http.Server
	apiServer  *httpapi.Server
	wsServer   *wsfanout.Server
	st         *store.Store

	// Addr is filled in once the listener binds, so callers (and tests)
	// can discover the ephemeral port actually chosen.
	Addr string
}

// NewLifecycle builds a Lifecycle for cfg against workspace ws.
func NewLifecycle(cfg config.Config, ws workspace.Workspace) *Lifecycle {
	return &Lifecycle{cfg: cfg, ws: ws, shutdownCh: make(chan struct{})}
}

// Run acquires the writer lock, brings up the store and both servers,
// writes server.json, and blocks until a shutdown signal (SIGTERM/SIGINT,
// or a programmatic Shutdown()/idle timeout) triggers the teardown
// sequence. Returns nil on a clean shutdown.
func (l *Lifecycle) Run(ctx context.Context) error {
	lock, err := AcquireLock(l.ws.WriterLockPath())
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	l.lock = lock
	defer func() {
		if l.lock != nil {
			if err := l.lock.Release(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to release lock: %v\n", err)
			}
		}
	}()

	st, err := store.Open(l.ws.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	l.st = st
	defer st.Close()

	meta, err := st.Meta()
	if err != nil {
		return fmt.Errorf("read workspace meta: %w", err)
	}

	authToken := l.cfg.AuthToken
	if authToken == "" {
		authToken, err = GenerateAuthToken()
		if err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
	}
	instanceID := model.NewID("inst")

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.Addr = ln.Addr().String()
	port := ln.Addr().(*net.TCPAddr).Port

	ops := mutate.New(st)
	breaker := plugin.NewCircuitBreaker(l.cfg.CircuitThreshold, time.Duration(l.cfg.CircuitCooldownSeconds)*time.Second)
	pipeline := plugin.NewPipeline(ops, pluginConfigs(l.cfg), breaker)

	apiServer := httpapi.NewServer(httpapi.Options{
		Ops:                     ops,
		Store:                   st,
		Pipeline:                pipeline,
		Limiter:                 ratelimit.New(ratelimit.Config{RequestsPerSecond: l.cfg.RateLimitRPS, Burst: l.cfg.RateLimitBurst, Enabled: true}),
		AuthToken:               authToken,
		MaxMessageContentBytes:  l.cfg.MaxMessageContentBytes,
		MaxAttachmentValueBytes: l.cfg.MaxAttachmentValueBytes,
		MaxReplayBatch:          l.cfg.MaxReplayBatch,
		InstanceID:              instanceID,
		DBID:                    meta.DBID,
		ProtocolVersion:         ProtocolVersion,
		SchemaVersion:           meta.SchemaVersion,
	})

	fanout := wsfanout.NewFanout()
	replay := wsfanout.NewDBReplayFunc(st.DB(), l.cfg.MaxReplayBatch)
	latestEventID := func() int64 {
		id, err := latestEventIDOrZero(ctx, st)
		if err != nil {
			return 0
		}
		return id
	}
	wsServer := wsfanout.NewServer(fanout, replay, instanceID, authToken, int64(l.cfg.MaxWSFrameBytes), latestEventID)
	l.wsServer = wsServer
	apiServer.PublishEvent = func(eventID int64) {
		ev, err := loadEventOrZero(ctx, st, eventID)
		if err == nil {
			fanout.Publish(ev)
		}
	}
	l.apiServer = apiServer

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer.Handler())
	mux.Handle("/", apiServer.Handler())
	l.httpServer = &http.Server{Handler: mux}

	if err := WriteHandoff(l.ws.HandoffPath(), Handoff{
		InstanceID: instanceID, DBID: meta.DBID, Host: l.cfg.Host, Port: port,
		PID: os.Getpid(), AuthToken: authToken, StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
		ProtocolVersion: ProtocolVersion, SchemaVersion: meta.SchemaVersion,
	}); err != nil {
		ln.Close()
		return fmt.Errorf("write handoff file: %w", err)
	}

	shutdownComplete := false
	defer func() {
		if !shutdownComplete {
			_ = l.shutdown()
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- l.httpServer.Serve(ln)
	}()

	go l.handleSignals()

	var idleTimer <-chan time.Time
	if l.cfg.IdleShutdownMS > 0 {
		t := time.NewTimer(time.Duration(l.cfg.IdleShutdownMS) * time.Millisecond)
		defer t.Stop()
		idleTimer = t.C
	}

	select {
	case <-l.shutdownCh:
	case <-idleTimer:
		log.Printf("daemon: idle timeout reached, shutting down")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownComplete = true
	return l.shutdown()
}

// Shutdown triggers a graceful shutdown from outside Run's goroutine.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() { close(l.shutdownCh) })
}

func (l *Lifecycle) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("daemon: received signal %v, shutting down", sig)
	l.Shutdown()
}

// shutdown runs the teardown sequence in the order spec §4.6 describes:
// stop accepting WS connections (close code 1001), stop the HTTP server,
// checkpoint the WAL, remove the handoff file, release the writer lock.
func (l *Lifecycle) shutdown() error {
	if l.apiServer != nil {
		l.apiServer.BeginShutdown()
	}
	if l.wsServer != nil {
		l.wsServer.Stop()
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if l.httpServer != nil {
		if err := l.httpServer.Shutdown(shutCtx); err != nil {
			log.Printf("daemon: error shutting down http server: %v", err)
		}
	}

	if l.st != nil {
		if err := l.st.Checkpoint(); err != nil {
			log.Printf("daemon: error checkpointing wal: %v", err)
		}
	}

	if err := RemoveHandoff(l.ws.HandoffPath()); err != nil {
		log.Printf("daemon: error removing handoff file: %v", err)
	}

	if l.lock != nil {
		if err := l.lock.Release(); err != nil {
			log.Printf("daemon: error releasing lock: %v", err)
		}
		l.lock = nil
	}

	log.Printf("daemon: shutdown complete")
	return nil
}

// loadEventOrZero fetches a single event by id for fanout publication,
// using the same Replay primitive the WS replay phase uses rather than a
// dedicated single-row query.
func loadEventOrZero(ctx context.Context, st *store.Store, eventID int64) (model.Event, error) {
	events, err := eventlog.Replay(ctx, st.DB(), eventID-1, eventID, eventlog.ReplayFilter{Wildcard: true}, 1)
	if err != nil {
		return model.Event{}, err
	}
	if len(events) == 0 {
		return model.Event{}, fmt.Errorf("event %d not found", eventID)
	}
	return events[0], nil
}

func latestEventIDOrZero(ctx context.Context, st *store.Store) (int64, error) {
	return eventlog.LatestEventID(ctx, st.DB())
}

// pluginConfigs converts the config-layer plugin specs (loaded from
// <workspace>/.agentlip/config.json, spec §4.5) into the runtime
// plugin.Config values the pipeline needs.
func pluginConfigs(cfg config.Config) []plugin.Config {
	if len(cfg.Plugins) == 0 {
		return nil
	}
	out := make([]plugin.Config, 0, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		timeout := time.Duration(p.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = time.Duration(cfg.PluginTimeoutSeconds) * time.Second
		}
		out = append(out, plugin.Config{
			Name:    p.Name,
			Kind:    plugin.Kind(p.Kind),
			Command: p.Command,
			Timeout: timeout,
		})
	}
	return out
}
