package wsfanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonletto/agentlip/internal/eventlog"
)

// WebSocket close codes used by the fanout protocol (spec §4.4, §6).
const (
	codeShutdown     = 1001
	codeProtocol     = 1003
	codeBackpressure = 1008
	codeTooLarge     = 1009
	codeInternal     = 1011
)

// maxHandshakeWait bounds how long a connection may take to send its first
// hello frame (spec §5 "handshake-read timeout ... order 5s").
const maxHandshakeWait = 5 * time.Second

// ReplayFunc resolves the replay phase for a connection: it returns events
// with afterEventID < event_id <= replayUntil matching filter, ordered
// ascending. Wired to eventlog.Replay by the caller that constructs
// Connections.
type ReplayFunc func(ctx context.Context, afterEventID, replayUntil int64, filter eventlog.ReplayFilter) ([]eventFrameEvent, error)

// eventFrameEvent is the subset of model.Event the replay phase needs to
// build frames from.
type eventFrameEvent struct {
	EventID        int64
	Ts             time.Time
	Name           string
	ScopeChannelID string
	ScopeTopicID   string
	ScopeTopicID2  string
	DataJSON       string
}

// Connection wraps one WebSocket client. Mechanics (buffered sendCh,
// separate read-loop/write-loop goroutines, ping/pong keepalive) are
// grounded on the teacher's internal/websocket/connection.go; the protocol
// on top (hello/hello_ok, replay phase, subscription filter) is new.
type Connection struct {
	conn   *websocket.Conn
	fanout *Fanout
	replay ReplayFunc

	sendCh chan []byte
	mu     sync.Mutex
	closed bool

	maxFrameBytes int64

	handshakeMu   sync.RWMutex
	handshakeDone bool
	filter        eventlog.ReplayFilter
	replayUntil   int64
	instanceID    string
}

// NewConnection wraps conn. instanceID is echoed in hello_ok; maxFrameBytes
// enforces the WS frame size limit (spec §6), closing with 1009 on
// violation.
func NewConnection(conn *websocket.Conn, fanout *Fanout, replay ReplayFunc, instanceID string, maxFrameBytes int64) *Connection {
	return &Connection{
		conn:          conn,
		fanout:        fanout,
		replay:        replay,
		sendCh:        make(chan []byte, 256),
		maxFrameBytes: maxFrameBytes,
		instanceID:    instanceID,
	}
}

func (c *Connection) handshakeComplete() bool {
	c.handshakeMu.RLock()
	defer c.handshakeMu.RUnlock()
	return c.handshakeDone
}

// helloFrame is the client's first message (spec §4.4).
type helloFrame struct {
	Type          string   `json:"type"`
	AfterEventID  int64    `json:"after_event_id"`
	Subscriptions *subsSet `json:"subscriptions,omitempty"`
}

type subsSet struct {
	Channels []string `json:"channels"`
	Topics   []string `json:"topics"`
}

type helloOKFrame struct {
	Type        string `json:"type"`
	ReplayUntil int64  `json:"replay_until"`
	InstanceID  string `json:"instance_id"`
}

type scopeFrame struct {
	ChannelID string `json:"channel_id,omitempty"`
	TopicID   string `json:"topic_id,omitempty"`
	TopicID2  string `json:"topic_id2,omitempty"`
}

type eventFrame struct {
	Type    string          `json:"type"`
	EventID int64           `json:"event_id"`
	Ts      time.Time       `json:"ts"`
	Name    string          `json:"name"`
	Scope   scopeFrame      `json:"scope"`
	Data    json.RawMessage `json:"data"`
}

// Run performs the handshake and then blocks servicing read/write loops
// until the connection closes. Call it from the HTTP upgrade handler's
// goroutine.
func (c *Connection) Run(ctx context.Context, latestEventID int64) {
	defer c.closeWithCode(codeInternal, "")

	if err := c.runHandshake(ctx, latestEventID); err != nil {
		return
	}

	c.fanout.add(c)
	defer c.fanout.remove(c)

	errCh := make(chan error, 2)
	go func() { errCh <- c.writeLoop(ctx) }()
	go func() { errCh <- c.readLoopPostHandshake(ctx) }()
	<-errCh
}

func (c *Connection) runHandshake(ctx context.Context, latestEventID int64) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(maxHandshakeWait))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if c.maxFrameBytes > 0 && int64(len(data)) > c.maxFrameBytes {
		c.closeWithCode(codeTooLarge, "frame too large")
		return fmt.Errorf("oversized hello frame")
	}

	var hello helloFrame
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != "hello" {
		c.closeWithCode(codeProtocol, "first frame must be hello")
		return fmt.Errorf("invalid hello frame")
	}

	filter := eventlog.ReplayFilter{Wildcard: hello.Subscriptions == nil}
	if hello.Subscriptions != nil {
		filter.Channels = toSet(hello.Subscriptions.Channels)
		filter.Topics = toSet(hello.Subscriptions.Topics)
	}

	c.handshakeMu.Lock()
	c.filter = filter
	c.replayUntil = latestEventID
	c.handshakeDone = true
	c.handshakeMu.Unlock()

	okPayload, err := json.Marshal(helloOKFrame{Type: "hello_ok", ReplayUntil: latestEventID, InstanceID: c.instanceID})
	if err != nil {
		return err
	}
	if err := c.writeRaw(okPayload); err != nil {
		return err
	}

	if filter.Empty() {
		return nil // subscribe to nothing: handshake completes, no replay
	}

	events, err := c.replay(ctx, hello.AfterEventID, latestEventID, filter)
	if err != nil {
		c.closeWithCode(codeInternal, "replay failed")
		return err
	}
	for _, e := range events {
		payload, err := json.Marshal(eventFrame{
			Type: "event", EventID: e.EventID, Ts: e.Ts, Name: e.Name,
			Scope: scopeFrame{ChannelID: e.ScopeChannelID, TopicID: e.ScopeTopicID, TopicID2: e.ScopeTopicID2},
			Data:  json.RawMessage(e.DataJSON),
		})
		if err != nil {
			continue
		}
		if err := c.writeRaw(payload); err != nil {
			return err
		}
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// readLoopPostHandshake enforces that no further client frames are
// expected by this protocol; any frame received after handshake is a
// protocol violation (spec §4.4).
func (c *Connection) readLoopPostHandshake(ctx context.Context) error {
	_ = c.conn.SetReadDeadline(time.Time{})
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(70 * time.Second))
		return nil
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.maxFrameBytes > 0 && int64(len(data)) > c.maxFrameBytes {
			c.closeWithCode(codeTooLarge, "frame too large")
			return fmt.Errorf("oversized frame")
		}
		c.closeWithCode(codeProtocol, "unexpected frame after handshake")
		return fmt.Errorf("protocol violation")
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.sendCh:
			if !ok {
				return nil
			}
			if err := c.writeRaw(msg); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) writeRaw(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// send queues a message for delivery. A full buffer is reported as an
// error so Fanout.Publish can close the connection with code 1008 per the
// spec's explicit backpressure policy (unlike the teacher's silent
// registry unregister on the same condition).
func (c *Connection) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Connection) closeWithCode(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.conn.Close()
}
