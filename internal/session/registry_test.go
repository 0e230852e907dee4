package session

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidesync/api/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore, store.Document) {
	t.Helper()
	st := store.NewMemoryStore()
	doc, err := st.CreateDocument(context.Background(),
		store.Document{ID: "doc-1", Title: "Quarterly", Owner: "alice"},
		store.Page{ID: "page-1"},
	)
	require.NoError(t, err)
	r := NewRegistry(st, zerolog.New(io.Discard))
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return r, st, doc
}

func TestIdentifyNewParticipant(t *testing.T) {
	r, _, doc := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Identify(ctx, "c1", doc.ID, "  bob ", "editor")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.DisplayName)
	assert.Equal(t, "editor", p.Role)
	assert.True(t, p.Active)
	assert.Equal(t, "c1", p.ConnectionID)
}

func TestIdentifyNeverGrantsOwner(t *testing.T) {
	r, _, doc := newTestRegistry(t)

	p, err := r.Identify(context.Background(), "c1", doc.ID, "mallory", "owner")
	require.NoError(t, err)
	assert.Equal(t, "viewer", p.Role)
}

func TestIdentifyCreatorIsOwner(t *testing.T) {
	r, _, doc := newTestRegistry(t)

	p, err := r.Identify(context.Background(), "c1", doc.ID, "alice", "viewer")
	require.NoError(t, err)
	assert.Equal(t, "owner", p.Role)
}

func TestIdentifyUnknownDocument(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Identify(context.Background(), "c1", "missing", "bob", "editor")
	assert.ErrorIs(t, err, ErrInvalidJoin)
}

func TestIdentifyRejectsBadNames(t *testing.T) {
	r, _, doc := newTestRegistry(t)
	for _, name := range []string{"", "   ", strings.Repeat("x", maxDisplayNameLength+1)} {
		_, err := r.Identify(context.Background(), "c1", doc.ID, name, "editor")
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestReconnectKeepsSingleActiveRecord(t *testing.T) {
	r, _, doc := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Identify(ctx, "c1", doc.ID, "bob", "editor")
	require.NoError(t, err)
	again, err := r.Identify(ctx, "c2", doc.ID, "bob", "viewer")
	require.NoError(t, err)
	assert.Equal(t, "editor", again.Role, "stored role survives reconnect")

	active, err := r.ListActive(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c2", active[0].ConnectionID)

	old, err := r.ResolveByConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, old)

	// the superseded connection closing must not knock bob out
	gone, err := r.Deactivate(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, gone)
	active, err = r.ListActive(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	r, _, doc := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Identify(ctx, "c1", doc.ID, "bob", "editor")
	require.NoError(t, err)

	p, err := r.Deactivate(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Active)

	p, err = r.Deactivate(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, p)

	active, err := r.ListActive(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListActiveOrdersByJoin(t *testing.T) {
	r, _, doc := newTestRegistry(t)
	ctx := context.Background()
	for i, name := range []string{"carol", "alice", "bob"} {
		_, err := r.Identify(ctx, "c"+name, doc.ID, name, "editor")
		require.NoError(t, err, i)
	}

	active, err := r.ListActive(ctx, doc.ID)
	require.NoError(t, err)
	names := make([]string, len(active))
	for i, p := range active {
		names[i] = p.DisplayName
	}
	assert.Equal(t, []string{"carol", "alice", "bob"}, names)
}

func TestResolveByConnection(t *testing.T) {
	r, _, doc := newTestRegistry(t)
	ctx := context.Background()

	none, err := r.ResolveByConnection(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = r.Identify(ctx, "c1", doc.ID, "bob", "editor")
	require.NoError(t, err)
	p, err := r.ResolveByConnection(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, doc.ID, p.DocumentID)
}
