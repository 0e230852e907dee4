// Package room groups connections by presentation and fans events out to them.
package room

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Event string `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Conn is the outbound queue of one registered connection. Frames are
// delivered in the order they were enqueued.
type Conn struct {
	ID   string
	send chan []byte
}

// Outbound is closed when the connection is unregistered or falls too far
// behind.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Publisher forwards room traffic to other API nodes.
type Publisher interface {
	Publish(ctx context.Context, documentID, sender string, frame []byte) error
}

// Multiplexer tracks which connection is in which room. Delivery is at most
// once: nothing is queued for connections that are not registered.
type Multiplexer struct {
	log    zerolog.Logger
	buffer int
	relay  Publisher

	mu      sync.RWMutex
	conns   map[string]*Conn
	rooms   map[string]map[string]struct{}
	members map[string]string
}

func NewMultiplexer(log zerolog.Logger, buffer int) *Multiplexer {
	if buffer <= 0 {
		buffer = 256
	}
	return &Multiplexer{
		log:     log.With().Str("component", "room").Logger(),
		buffer:  buffer,
		conns:   map[string]*Conn{},
		rooms:   map[string]map[string]struct{}{},
		members: map[string]string{},
	}
}

// SetRelay makes every local broadcast also go out through p.
func (m *Multiplexer) SetRelay(p Publisher) {
	m.mu.Lock()
	m.relay = p
	m.mu.Unlock()
}

func (m *Multiplexer) Register(connectionID string) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.conns[connectionID]; ok {
		return existing
	}
	c := &Conn{ID: connectionID, send: make(chan []byte, m.buffer)}
	m.conns[connectionID] = c
	return c
}

// Unregister drops the connection from its room and closes its queue.
func (m *Multiplexer) Unregister(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(connectionID)
}

func (m *Multiplexer) dropLocked(connectionID string) {
	m.leaveLocked(connectionID)
	if c, ok := m.conns[connectionID]; ok {
		close(c.send)
		delete(m.conns, connectionID)
	}
}

// Join puts a registered connection into documentID's room, leaving any
// other room first. Joining the same room twice is a no-op.
func (m *Multiplexer) Join(connectionID, documentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[connectionID]; !ok {
		return false
	}
	if m.members[connectionID] == documentID {
		return true
	}
	m.leaveLocked(connectionID)
	room, ok := m.rooms[documentID]
	if !ok {
		room = map[string]struct{}{}
		m.rooms[documentID] = room
	}
	room[connectionID] = struct{}{}
	m.members[connectionID] = documentID
	return true
}

// Leave removes the connection from its room and returns the room it left.
func (m *Multiplexer) Leave(connectionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(connectionID)
}

func (m *Multiplexer) leaveLocked(connectionID string) string {
	documentID, ok := m.members[connectionID]
	if !ok {
		return ""
	}
	delete(m.members, connectionID)
	if room := m.rooms[documentID]; room != nil {
		delete(room, connectionID)
		if len(room) == 0 {
			delete(m.rooms, documentID)
		}
	}
	return documentID
}

// RoomOf returns the document a connection is in, or "".
func (m *Multiplexer) RoomOf(connectionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[connectionID]
}

func (m *Multiplexer) Members(documentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rooms[documentID]))
	for id := range m.rooms[documentID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BroadcastToOthers delivers an event to every member of documentID's room
// except sender, on this node and through the relay.
func (m *Multiplexer) BroadcastToOthers(sender, documentID, event string, payload any) {
	frame, ok := m.encode(Message{Event: event, Data: payload})
	if !ok {
		return
	}
	m.DeliverLocal(documentID, sender, frame)

	m.mu.RLock()
	relay := m.relay
	m.mu.RUnlock()
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Publish(ctx, documentID, sender, frame); err != nil {
		m.log.Warn().Err(err).Str("document_id", documentID).Str("event", event).Msg("relay publish failed")
	}
}

func (m *Multiplexer) BroadcastToAll(documentID, event string, payload any) {
	m.BroadcastToOthers("", documentID, event, payload)
}

// DeliverLocal enqueues an encoded frame for local members of a room.
// Members whose queue is full are disconnected.
func (m *Multiplexer) DeliverLocal(documentID, sender string, frame []byte) {
	var slow []string
	m.mu.RLock()
	for id := range m.rooms[documentID] {
		if id == sender {
			continue
		}
		select {
		case m.conns[id].send <- frame:
		default:
			slow = append(slow, id)
		}
	}
	m.mu.RUnlock()
	m.evict(slow)
}

// SendTo delivers an event to one connection only.
func (m *Multiplexer) SendTo(connectionID, event string, payload any) {
	m.Reply(connectionID, "", event, payload)
}

// Reply is SendTo with the client's correlation ref attached.
func (m *Multiplexer) Reply(connectionID, ref, event string, payload any) {
	frame, ok := m.encode(Message{Event: event, Ref: ref, Data: payload})
	if !ok {
		return
	}
	m.mu.RLock()
	c, registered := m.conns[connectionID]
	full := false
	if registered {
		select {
		case c.send <- frame:
		default:
			full = true
		}
	}
	m.mu.RUnlock()
	if full {
		m.evict([]string{connectionID})
	}
}

func (m *Multiplexer) evict(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.conns[id]; ok {
			m.log.Warn().Str("connection_id", id).Msg("send queue full, dropping connection")
			m.dropLocked(id)
		}
	}
}

func (m *Multiplexer) encode(msg Message) ([]byte, bool) {
	frame, err := json.Marshal(msg)
	if err != nil {
		m.log.Error().Err(err).Str("event", msg.Event).Msg("encode frame failed")
		return nil, false
	}
	return frame, true
}
