package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It backs local development
// (SLIDESYNC_STORE=memory) and the realtime tests. A single mutex gives the
// same row-level atomicity PostgresStore gets from transactions.
type MemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	documents    map[string]Document
	pages        map[string]Page
	elements     map[string]Element
	participants map[participantKey]Participant
	changes      []ElementChange
	lastID       int64
}

type participantKey struct {
	documentID  string
	displayName string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		documents:    map[string]Document{},
		pages:        map[string]Page{},
		elements:     map[string]Element{},
		participants: map[participantKey]Participant{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Documents

func (s *MemoryStore) ListDocuments(context.Context) ([]DocumentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DocumentSummary, 0, len(s.documents))
	for _, d := range s.documents {
		summary := DocumentSummary{Document: d}
		for _, p := range s.pages {
			if p.DocumentID == d.ID {
				summary.PageCount++
			}
		}
		for key, p := range s.participants {
			if key.documentID == d.ID && p.Active {
				summary.ActiveParticipants++
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("get presentation: %w", ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc Document, first Page) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return Document{}, fmt.Errorf("insert presentation: duplicate id %s", doc.ID)
	}
	now := s.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.documents[doc.ID] = doc

	first.DocumentID = doc.ID
	first.Position = 0
	first.CreatedAt, first.UpdatedAt = now, now
	s.pages[first.ID] = first

	s.participants[participantKey{doc.ID, doc.Owner}] = Participant{
		ID:          s.nextID(),
		DocumentID:  doc.ID,
		DisplayName: doc.Owner,
		Role:        "owner",
		JoinedAt:    now,
	}
	return doc, nil
}

func (s *MemoryStore) UpdateDocumentTitle(_ context.Context, id, title string, at time.Time) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("update presentation title: %w", ErrNotFound)
	}
	d.Title = title
	if at.After(d.UpdatedAt) {
		d.UpdatedAt = at
	}
	s.documents[id] = d
	return d, nil
}

func (s *MemoryStore) TouchDocument(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.documents[id]; ok && at.After(d.UpdatedAt) {
		d.UpdatedAt = at
		s.documents[id] = d
	}
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("delete presentation: %w", ErrNotFound)
	}
	delete(s.documents, id)
	for pageID, p := range s.pages {
		if p.DocumentID == id {
			s.deletePageLocked(pageID)
		}
	}
	for key := range s.participants {
		if key.documentID == id {
			delete(s.participants, key)
		}
	}
	return nil
}

// Pages

func (s *MemoryStore) ListPages(_ context.Context, documentID string) ([]Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagesOfLocked(documentID), nil
}

func (s *MemoryStore) pagesOfLocked(documentID string) []Page {
	out := []Page{}
	for _, p := range s.pages {
		if p.DocumentID == documentID {
			out = append(out, p)
		}
	}
	sortPages(out)
	return out
}

func (s *MemoryStore) GetPage(_ context.Context, id string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return Page{}, fmt.Errorf("get slide: %w", ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) InsertPage(_ context.Context, page Page) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[page.DocumentID]; !ok {
		return Page{}, fmt.Errorf("insert slide: %w", ErrNotFound)
	}
	next := 0
	for _, p := range s.pages {
		if p.DocumentID == page.DocumentID && p.Position+1 > next {
			next = p.Position + 1
		}
	}
	if page.Position < 0 || page.Position > next {
		page.Position = next
	}
	for id, p := range s.pages {
		if p.DocumentID == page.DocumentID && p.Position >= page.Position {
			p.Position++
			s.pages[id] = p
		}
	}
	now := s.now()
	page.CreatedAt, page.UpdatedAt = now, now
	s.pages[page.ID] = page
	return page, nil
}

func (s *MemoryStore) DeletePage(_ context.Context, id string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return Page{}, fmt.Errorf("get slide: %w", ErrNotFound)
	}
	if len(s.pagesOfLocked(page.DocumentID)) <= 1 {
		return Page{}, ErrLastPage
	}
	s.deletePageLocked(id)
	return page, nil
}

func (s *MemoryStore) deletePageLocked(id string) {
	delete(s.pages, id)
	for elementID, e := range s.elements {
		if e.PageID == id {
			delete(s.elements, elementID)
		}
	}
	kept := s.changes[:0]
	for _, c := range s.changes {
		if c.PageID != id {
			kept = append(kept, c)
		}
	}
	s.changes = kept
}

func (s *MemoryStore) ReorderPages(_ context.Context, documentID string, order []string) ([]Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return nil, fmt.Errorf("lock presentation: %w", ErrNotFound)
	}
	pages := s.pagesOfLocked(documentID)
	current := make([]string, len(pages))
	for i, p := range pages {
		current[i] = p.ID
	}
	final, err := MergeOrder(current, order)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for pos, id := range final {
		p := s.pages[id]
		p.Position = pos
		p.UpdatedAt = now
		s.pages[id] = p
	}
	return s.pagesOfLocked(documentID), nil
}

func (s *MemoryStore) DuplicatePage(_ context.Context, pageID, newPageID string, elementID func(string) string) (PageWithElements, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.pages[pageID]
	if !ok {
		return PageWithElements{}, fmt.Errorf("get slide: %w", ErrNotFound)
	}
	for id, p := range s.pages {
		if p.DocumentID == src.DocumentID && p.Position > src.Position {
			p.Position++
			s.pages[id] = p
		}
	}
	now := s.now()
	out := PageWithElements{Page: Page{
		ID:         newPageID,
		DocumentID: src.DocumentID,
		Position:   src.Position + 1,
		Background: src.Background,
		CreatedAt:  now,
		UpdatedAt:  now,
	}}
	s.pages[out.ID] = out.Page
	for _, e := range s.elementsOfLocked(pageID) {
		copied := e.Clone()
		copied.ID = elementID(e.ID)
		copied.PageID = out.ID
		copied.CreatedAt, copied.UpdatedAt = now, now
		s.elements[copied.ID] = copied
		out.Elements = append(out.Elements, copied.Clone())
	}
	sortElements(out.Elements)
	return out, nil
}

func (s *MemoryStore) ListPagesWithElements(_ context.Context, documentID string) ([]PageWithElements, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := s.pagesOfLocked(documentID)
	out := make([]PageWithElements, 0, len(pages))
	for _, p := range pages {
		out = append(out, PageWithElements{Page: p, Elements: s.elementsOfLocked(p.ID)})
	}
	return out, nil
}

// Elements

func (s *MemoryStore) elementsOfLocked(pageID string) []Element {
	out := []Element{}
	for _, e := range s.elements {
		if e.PageID == pageID {
			out = append(out, e.Clone())
		}
	}
	sortElements(out)
	return out
}

func (s *MemoryStore) ListElements(_ context.Context, pageID string) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elementsOfLocked(pageID), nil
}

func (s *MemoryStore) GetElement(_ context.Context, id string) (Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elements[id]
	if !ok {
		return Element{}, fmt.Errorf("get element: %w", ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) InsertElement(_ context.Context, e Element) (Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertElementLocked(e)
}

func (s *MemoryStore) insertElementLocked(e Element) (Element, error) {
	if _, ok := s.pages[e.PageID]; !ok {
		return Element{}, fmt.Errorf("insert element: %w", ErrNotFound)
	}
	if _, exists := s.elements[e.ID]; exists {
		return Element{}, fmt.Errorf("insert element: duplicate id %s", e.ID)
	}
	now := s.now()
	e = e.Clone()
	e.CreatedAt, e.UpdatedAt = now, now
	s.elements[e.ID] = e
	return e.Clone(), nil
}

func (s *MemoryStore) UpdateElement(_ context.Context, id string, apply func(*Element) error) (Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.elements[id]
	if !ok {
		return Element{}, fmt.Errorf("lock element: %w", ErrNotFound)
	}
	working := current.Clone()
	if err := apply(&working); err != nil {
		return Element{}, err
	}
	working.ID = current.ID
	working.PageID = current.PageID
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = s.now()
	s.elements[id] = working
	return working.Clone(), nil
}

func (s *MemoryStore) DeleteElement(_ context.Context, id string) (Element, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elements[id]
	if !ok {
		return Element{}, false, nil
	}
	delete(s.elements, id)
	return e, true, nil
}

func (s *MemoryStore) ReplacePageElements(_ context.Context, pageID string, elements []Element) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("lock slide: %w", ErrNotFound)
	}
	ids := map[string]bool{}
	for _, e := range elements {
		if ids[e.ID] {
			return nil, fmt.Errorf("insert element: duplicate id %s", e.ID)
		}
		ids[e.ID] = true
		if existing, ok := s.elements[e.ID]; ok && existing.PageID != pageID {
			return nil, fmt.Errorf("insert element: duplicate id %s", e.ID)
		}
	}
	for id, e := range s.elements {
		if e.PageID == pageID {
			delete(s.elements, id)
		}
	}
	out := make([]Element, 0, len(elements))
	for _, e := range elements {
		e.PageID = pageID
		inserted, err := s.insertElementLocked(e)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	page.UpdatedAt = s.now()
	s.pages[pageID] = page
	sortElements(out)
	return out, nil
}

// Participants

func (s *MemoryStore) UpsertParticipant(_ context.Context, p Participant) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[p.DocumentID]; !ok {
		return Participant{}, fmt.Errorf("upsert participant: %w", ErrNotFound)
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	key := participantKey{p.DocumentID, p.DisplayName}
	existing, ok := s.participants[key]
	if ok {
		existing.ConnectionID = p.ConnectionID
		existing.Active = true
		existing.JoinedAt = p.JoinedAt
		s.participants[key] = existing
		return existing, nil
	}
	p.ID = s.nextID()
	p.Active = true
	s.participants[key] = p
	return p, nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, documentID, displayName string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantKey{documentID, displayName}]
	if !ok {
		return Participant{}, fmt.Errorf("get participant: %w", ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) GetParticipantByConnection(_ context.Context, connectionID string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.activeByConnectionLocked(connectionID); ok {
		return p, nil
	}
	return Participant{}, fmt.Errorf("get participant by connection: %w", ErrNotFound)
}

func (s *MemoryStore) activeByConnectionLocked(connectionID string) (Participant, bool) {
	var found Participant
	ok := false
	for _, p := range s.participants {
		if p.Active && p.ConnectionID == connectionID && connectionID != "" {
			if !ok || p.JoinedAt.After(found.JoinedAt) {
				found, ok = p, true
			}
		}
	}
	return found, ok
}

func (s *MemoryStore) DeactivateConnection(_ context.Context, connectionID string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.activeByConnectionLocked(connectionID)
	if !ok {
		return Participant{}, fmt.Errorf("deactivate participant: %w", ErrNotFound)
	}
	p.Active = false
	s.participants[participantKey{p.DocumentID, p.DisplayName}] = p
	return p, nil
}

func (s *MemoryStore) ListActiveParticipants(_ context.Context, documentID string) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Participant{}
	for key, p := range s.participants {
		if key.documentID == documentID && p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateParticipantRole(_ context.Context, documentID, displayName, role string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey{documentID, displayName}
	p, ok := s.participants[key]
	if !ok {
		return Participant{}, fmt.Errorf("update participant role: %w", ErrNotFound)
	}
	p.Role = role
	s.participants[key] = p
	return p, nil
}

// Change log

func (s *MemoryStore) InsertElementChange(_ context.Context, c ElementChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[c.PageID]; !ok {
		return fmt.Errorf("insert element change: %w", ErrNotFound)
	}
	c.ID = s.nextID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.changes = append(s.changes, c)
	return nil
}

func (s *MemoryStore) ListElementChanges(_ context.Context, elementID string, limit int) ([]ElementChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []ElementChange{}
	for i := len(s.changes) - 1; i >= 0 && len(out) < limit; i-- {
		if s.changes[i].ElementID == elementID {
			out = append(out, s.changes[i])
		}
	}
	return out, nil
}
