// Package wsfanout implements the WebSocket fanout protocol: hello
// handshake, replay/live partition, subscription filtering, and
// backpressure handling (spec §4.4). Connection mechanics (buffered sendCh,
// separate read/write goroutines, ping/pong) are grounded on the teacher's
// internal/websocket/connection.go; Fanout is the renamed, generalized
// successor to the teacher's ClientRegistry
// (internal/websocket/registry.go).
package wsfanout

import (
	"encoding/json"
	"sync"

	"github.com/leonletto/agentlip/internal/model"
)

// Fanout holds the set of open connections for one daemon and publishes
// events to whichever ones have completed their handshake and whose filter
// matches. It owns the connection set; connections reach back into it
// only to add and remove themselves, matching the spec's cyclic-reference
// design note (fanout owns the set, connections hold a typed publisher
// handle passed at construction).
type Fanout struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

// NewFanout returns an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{conns: make(map[*Connection]struct{})}
}

func (f *Fanout) add(c *Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[c] = struct{}{}
}

func (f *Fanout) remove(c *Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, c)
}

// Count returns the number of currently registered connections.
func (f *Fanout) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.conns)
}

// Publish delivers ev to every handshake-complete connection whose filter
// matches and whose replay_until is behind ev (live-phase events only;
// events already covered by a connection's replay are never resent in the
// live phase, per the disjointness invariant). A connection whose send
// fails (full buffer or closed peer) is closed with code 1008 and dropped.
func (f *Fanout) Publish(ev model.Event) {
	f.mu.RLock()
	conns := make([]*Connection, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.RUnlock()

	payload, err := json.Marshal(eventFrame{
		Type:    "event",
		EventID: ev.EventID,
		Ts:      ev.Ts,
		Name:    ev.Name,
		Scope: scopeFrame{
			ChannelID: ev.ScopeChannelID,
			TopicID:   ev.ScopeTopicID,
			TopicID2:  ev.ScopeTopicID2,
		},
		Data: json.RawMessage(ev.DataJSON),
	})
	if err != nil {
		return
	}

	for _, c := range conns {
		if !c.handshakeComplete() {
			continue
		}
		if ev.EventID <= c.replayUntil {
			continue // covered by this connection's replay, never resent live
		}
		if !c.filter.Matches(ev.ScopeChannelID, ev.ScopeTopicID, ev.ScopeTopicID2) {
			continue
		}
		if err := c.send(payload); err != nil {
			c.closeWithCode(codeBackpressure, "backpressure")
		}
	}
}

// CloseAll closes every connection with the shutdown code (1001), used by
// the daemon's graceful shutdown sequence.
func (f *Fanout) CloseAll() {
	f.mu.Lock()
	conns := make([]*Connection, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.conns = make(map[*Connection]struct{})
	f.mu.Unlock()

	for _, c := range conns {
		c.closeWithCode(codeShutdown, "daemon shutting down")
	}
}
