package room

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMultiplexer(buffer int) *Multiplexer {
	return NewMultiplexer(zerolog.New(io.Discard), buffer)
}

// drain returns every frame currently queued on c.
func drain(t *testing.T, c *Conn) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case frame, ok := <-c.Outbound():
			if !ok {
				return out
			}
			var msg Message
			require.NoError(t, json.Unmarshal(frame, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastSkipsSenderAndOtherRooms(t *testing.T) {
	m := newTestMultiplexer(8)
	alice := m.Register("alice")
	bob := m.Register("bob")
	eve := m.Register("eve")
	m.Join("alice", "doc-a")
	m.Join("bob", "doc-a")
	m.Join("eve", "doc-b")

	m.BroadcastToOthers("alice", "doc-a", "element-created", map[string]any{"pageId": "p1"})

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, eve))
	got := drain(t, bob)
	require.Len(t, got, 1)
	assert.Equal(t, "element-created", got[0].Event)
	assert.Equal(t, map[string]any{"pageId": "p1"}, got[0].Data)
}

func TestBroadcastToAllIncludesEveryone(t *testing.T) {
	m := newTestMultiplexer(8)
	alice := m.Register("alice")
	bob := m.Register("bob")
	m.Join("alice", "doc")
	m.Join("bob", "doc")

	m.BroadcastToAll("doc", "participants-updated", []string{"alice", "bob"})

	assert.Len(t, drain(t, alice), 1)
	assert.Len(t, drain(t, bob), 1)
}

func TestJoinIsIdempotentAndSwitchesRooms(t *testing.T) {
	m := newTestMultiplexer(8)
	m.Register("c1")

	assert.True(t, m.Join("c1", "doc-a"))
	assert.True(t, m.Join("c1", "doc-a"))
	assert.Equal(t, []string{"c1"}, m.Members("doc-a"))

	m.Join("c1", "doc-b")
	assert.Empty(t, m.Members("doc-a"))
	assert.Equal(t, "doc-b", m.RoomOf("c1"))

	assert.False(t, m.Join("ghost", "doc-a"), "unregistered connections cannot join")
}

func TestLeaveAndUnregister(t *testing.T) {
	m := newTestMultiplexer(8)
	c := m.Register("c1")
	m.Join("c1", "doc")

	assert.Equal(t, "doc", m.Leave("c1"))
	assert.Equal(t, "", m.Leave("c1"))

	m.Unregister("c1")
	m.Unregister("c1")
	_, open := <-c.Outbound()
	assert.False(t, open)

	// sends to a gone connection are dropped, not queued
	m.SendTo("c1", "ack", nil)
}

func TestReplyCarriesRef(t *testing.T) {
	m := newTestMultiplexer(8)
	c := m.Register("c1")

	m.Reply("c1", "r-7", "ack", map[string]any{"ok": true})

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "r-7", got[0].Ref)
	assert.Equal(t, "ack", got[0].Event)
}

func TestSlowConsumerIsDropped(t *testing.T) {
	m := newTestMultiplexer(2)
	slow := m.Register("slow")
	m.Register("fast")
	m.Join("slow", "doc")
	m.Join("fast", "doc")

	for i := 0; i < 3; i++ {
		m.BroadcastToOthers("fast", "doc", "page-changed", map[string]any{"pageIndex": i})
	}

	assert.Equal(t, []string{"fast"}, m.Members("doc"))
	assert.Len(t, drain(t, slow), 2)
	_, open := <-slow.Outbound()
	assert.False(t, open)
}

func TestPerSenderOrderIsPreserved(t *testing.T) {
	m := newTestMultiplexer(256)
	peer := m.Register("peer")
	m.Register("a")
	m.Register("b")
	for _, id := range []string{"peer", "a", "b"} {
		m.Join(id, "doc")
	}

	var wg sync.WaitGroup
	for _, sender := range []string{"a", "b"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.BroadcastToOthers(sender, "doc", "element-updated", map[string]any{"from": sender, "seq": i})
			}
		}(sender)
	}
	wg.Wait()

	next := map[string]float64{}
	for _, msg := range drain(t, peer) {
		data := msg.Data.(map[string]any)
		from := data["from"].(string)
		assert.Equal(t, next[from], data["seq"], "frames from %s out of order", from)
		next[from]++
	}
	assert.Equal(t, map[string]float64{"a": 50, "b": 50}, next)
}
