package presence

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidesync/api/internal/store"
)

type broadcast struct {
	documentID string
	event      string
	payload    map[string]any
}

type fakeRooms struct {
	mu   sync.Mutex
	sent []broadcast
}

func (f *fakeRooms) BroadcastToAll(documentID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, broadcast{documentID, event, payload.(map[string]any)})
}

func setup(t *testing.T) (*Coordinator, *store.MemoryStore, *fakeRooms) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	_, err := st.CreateDocument(ctx, store.Document{ID: "doc", Title: "Deck", Owner: "alice"}, store.Page{ID: "p1"})
	require.NoError(t, err)
	_, err = st.UpsertParticipant(ctx, store.Participant{DocumentID: "doc", DisplayName: "alice", ConnectionID: "c-alice", Role: "viewer"})
	require.NoError(t, err)
	_, err = st.UpsertParticipant(ctx, store.Participant{DocumentID: "doc", DisplayName: "bob", ConnectionID: "c-bob", Role: "viewer"})
	require.NoError(t, err)

	rooms := &fakeRooms{}
	return NewCoordinator(st, rooms, zerolog.New(io.Discard)), st, rooms
}

func TestAnnounceSendsActiveList(t *testing.T) {
	c, _, rooms := setup(t)

	require.NoError(t, c.Announce(context.Background(), "doc"))

	require.Len(t, rooms.sent, 1)
	assert.Equal(t, EventParticipantsUpdated, rooms.sent[0].event)
	views := rooms.sent[0].payload["participants"].([]ParticipantView)
	require.Len(t, views, 2)
	assert.Equal(t, "alice", views[0].DisplayName)
	assert.Equal(t, "owner", views[0].Role)
}

func TestOwnerChangesRole(t *testing.T) {
	c, st, rooms := setup(t)
	ctx := context.Background()

	p, err := c.ChangeRole(ctx, "owner", "doc", "bob", "editor")
	require.NoError(t, err)
	assert.Equal(t, "editor", p.Role)

	stored, err := st.GetParticipant(ctx, "doc", "bob")
	require.NoError(t, err)
	assert.Equal(t, "editor", stored.Role)
	require.Len(t, rooms.sent, 1)
	assert.Equal(t, EventParticipantsUpdated, rooms.sent[0].event)
}

func TestChangeRoleRules(t *testing.T) {
	cases := []struct {
		name      string
		actorRole string
		target    string
		role      string
		want      error
	}{
		{"editor cannot change roles", "editor", "bob", "editor", ErrForbidden},
		{"viewer cannot change roles", "viewer", "bob", "editor", ErrForbidden},
		{"owner cannot be granted", "owner", "bob", "owner", ErrInvalidRole},
		{"unknown role", "owner", "bob", "admin", ErrInvalidRole},
		{"owner cannot be demoted", "owner", "alice", "viewer", ErrOwnerRole},
		{"unknown participant", "owner", "zed", "editor", ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, rooms := setup(t)
			_, err := c.ChangeRole(context.Background(), tc.actorRole, "doc", tc.target, tc.role)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, rooms.sent)
		})
	}
}
