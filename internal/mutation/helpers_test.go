package mutation

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"slidesync/api/internal/store"
)

type sentEvent struct {
	Sender     string
	DocumentID string
	To         string
	Event      string
	Payload    map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recorder) BroadcastToOthers(sender, documentID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{Sender: sender, DocumentID: documentID, Event: event, Payload: payload.(map[string]any)})
}

func (r *recorder) SendTo(connectionID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{To: connectionID, Event: event, Payload: payload.(map[string]any)})
}

func (r *recorder) all() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.events...)
}

func (r *recorder) named(event string) []sentEvent {
	var out []sentEvent
	for _, e := range r.all() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// countingStore wraps the memory store to count and optionally fail writes.
type countingStore struct {
	*store.MemoryStore
	updates     atomic.Int32
	failInsert  error
	failUpdate  error
	afterUpdate func(store.Element)
}

func (s *countingStore) InsertElement(ctx context.Context, e store.Element) (store.Element, error) {
	if s.failInsert != nil {
		return store.Element{}, s.failInsert
	}
	return s.MemoryStore.InsertElement(ctx, e)
}

func (s *countingStore) UpdateElement(ctx context.Context, id string, apply func(*store.Element) error) (store.Element, error) {
	s.updates.Add(1)
	if s.failUpdate != nil {
		return store.Element{}, s.failUpdate
	}
	return s.MemoryStore.UpdateElement(ctx, id, func(e *store.Element) error {
		if err := apply(e); err != nil {
			return err
		}
		if s.afterUpdate != nil {
			s.afterUpdate(*e)
		}
		return nil
	})
}

type fixture struct {
	store    *countingStore
	rooms    *recorder
	pipeline *Pipeline
	doc      store.Document
	page     store.Page
	owner    Actor
	editor   Actor
	viewer   Actor
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	st := &countingStore{MemoryStore: mem}
	doc, err := mem.CreateDocument(context.Background(),
		store.Document{ID: uuid.NewString(), Title: "Deck", Owner: "alice"},
		store.Page{ID: uuid.NewString(), Background: store.DefaultBackground},
	)
	require.NoError(t, err)
	pages, err := mem.ListPages(context.Background(), doc.ID)
	require.NoError(t, err)

	rooms := &recorder{}
	p := New(st, rooms, zerolog.New(io.Discard), Options{
		Debounce:     debounce,
		StoreTimeout: time.Second,
		NewID:        uuid.NewString,
	})
	t.Cleanup(p.Flush)

	return &fixture{
		store:    st,
		rooms:    rooms,
		pipeline: p,
		doc:      doc,
		page:     pages[0],
		owner:    Actor{ConnectionID: "conn-alice", DocumentID: doc.ID, DisplayName: "alice", Role: "owner"},
		editor:   Actor{ConnectionID: "conn-carol", DocumentID: doc.ID, DisplayName: "carol", Role: "editor"},
		viewer:   Actor{ConnectionID: "conn-bob", DocumentID: doc.ID, DisplayName: "bob", Role: "viewer"},
	}
}

func (f *fixture) createText(t *testing.T, text string) ElementView {
	t.Helper()
	view, err := f.pipeline.CreateElement(context.Background(), f.owner, f.page.ID, ElementInput{
		Type:    "text",
		X:       Num(10),
		Y:       Num(10),
		Content: map[string]any{"text": text},
		Styles:  map[string]any{"color": "red"},
	})
	require.NoError(t, err)
	return view
}
