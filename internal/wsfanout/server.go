package wsfanout

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// tokensEqual compares two bearer tokens in constant time. Duplicated from
// internal/daemon.TokensEqual (rather than imported) to keep daemon free to
// import wsfanout when it wires the server into the lifecycle without an
// import cycle.
func tokensEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Server upgrades HTTP requests at /ws into fanout Connections. Grounded on
// the teacher's internal/websocket/server.go handleWebSocket/Start/Stop
// shutdown-flag pattern; the RPC registry and SPA serving it also carried
// are not part of this protocol, so this wrapper covers only the upgrade
// and shutdown lifecycle.
type Server struct {
	fanout        *Fanout
	replay        ReplayFunc
	instanceID    string
	authToken     string
	maxFrameBytes int64
	latestEventID func() int64

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer builds a Server. latestEventID is called once per incoming
// connection to capture the replay_until snapshot at handshake time (spec
// §4.4 "replay_until is fixed once, at the start of the connection").
func NewServer(fanout *Fanout, replay ReplayFunc, instanceID, authToken string, maxFrameBytes int64, latestEventID func() int64) *Server {
	return &Server{
		fanout:        fanout,
		replay:        replay,
		instanceID:    instanceID,
		authToken:     authToken,
		maxFrameBytes: maxFrameBytes,
		latestEventID: latestEventID,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the http.HandlerFunc to mount at /ws.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleUpgrade
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Hold the read lock across the shutdown check and wg.Add so Stop cannot
	// observe zero in-flight connections and return while this one is still
	// being set up.
	s.mu.RLock()
	if s.shutdown {
		s.mu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !tokensEqual(r.URL.Query().Get("token"), s.authToken) {
		s.mu.RUnlock()
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	s.wg.Add(1)
	s.mu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		return
	}

	go s.run(conn)
}

func (s *Server) run(conn *websocket.Conn) {
	defer s.wg.Done()
	c := NewConnection(conn, s.fanout, s.replay, s.instanceID, s.maxFrameBytes)
	c.Run(context.Background(), s.latestEventID())
}

// Stop closes every registered connection with the shutdown code and waits
// (bounded by a timeout) for in-flight upgrades to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.fanout.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}
