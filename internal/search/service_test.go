package search

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidesync/api/internal/store"
)

func newMemoryService() *Service {
	return NewService(nil, nil, NewMemory(), zerolog.New(io.Discard))
}

func text(id, pageID, body string) store.Element {
	return store.Element{ID: id, PageID: pageID, Kind: store.KindText, Content: store.Payload{"text": body}, Style: store.Payload{}}
}

func TestSearchFindsTitlesAndText(t *testing.T) {
	s := newMemoryService()
	s.DocumentChanged(store.Document{ID: "d1", Title: "Roadmap 2027", Owner: "alice"})
	s.ElementChanged("d1", text("e1", "p1", "Launch the roadmap"))
	s.ElementChanged("d1", text("e2", "p1", "Hiring plan"))

	resp := s.Search(context.Background(), Query{Text: "ROADMAP"})
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, ResultPresentation, resp.Results[0].Type)
	assert.Equal(t, "d1", resp.Results[0].DocumentID)
	assert.Equal(t, ResultElement, resp.Results[1].Type)
	assert.Equal(t, "p1", resp.Results[1].PageID)
}

func TestSearchFilters(t *testing.T) {
	s := newMemoryService()
	s.DocumentChanged(store.Document{ID: "d1", Title: "Budget"})
	s.DocumentChanged(store.Document{ID: "d2", Title: "Budget review"})
	s.ElementChanged("d2", text("e1", "p1", "budget numbers"))

	resp := s.Search(context.Background(), Query{Text: "budget", FilterType: ResultElement})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "e1", resp.Results[0].ID)

	resp = s.Search(context.Background(), Query{Text: "budget", FilterDocumentID: "d1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "d1", resp.Results[0].ID)
}

func TestElementLosingTextIsDropped(t *testing.T) {
	s := newMemoryService()
	s.ElementChanged("d1", text("e1", "p1", "ephemeral"))
	s.ElementChanged("d1", store.Element{ID: "e1", PageID: "p1", Kind: store.KindText, Content: store.Payload{"text": ""}})

	resp := s.Search(context.Background(), Query{Text: "ephemeral"})
	assert.Empty(t, resp.Results)
}

func TestPageSavedAndRemoval(t *testing.T) {
	s := newMemoryService()
	s.DocumentChanged(store.Document{ID: "d1", Title: "Pitch"})
	s.PageSaved("d1", "p1", "alice", []store.Element{
		text("e1", "p1", "pitch opener"),
		{ID: "e2", PageID: "p1", Kind: store.KindShape, Content: store.Payload{"shape": "circle"}},
	})
	assert.Equal(t, 2, s.Search(context.Background(), Query{Text: "pitch"}).Total)

	s.ElementRemoved("d1", "e1")
	assert.Equal(t, 1, s.Search(context.Background(), Query{Text: "pitch"}).Total)

	s.RemovePresentation("d1", nil)
	resp := s.Search(context.Background(), Query{Text: "pitch"})
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Results)
}

func TestSearchWithoutBackends(t *testing.T) {
	s := NewService(nil, nil, nil, zerolog.New(io.Discard))
	s.DocumentChanged(store.Document{ID: "d1", Title: "anything"})
	resp := s.Search(context.Background(), Query{Text: "anything"})
	assert.Equal(t, []Result{}, resp.Results)
}

func TestMemoryPaging(t *testing.T) {
	m := NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.IndexPresentation(PresentationRecord{ID: id, Title: "deck " + id}))
	}
	results, total, err := m.Search(context.Background(), Query{Text: "deck", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
}
