package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a substring index used with the in-memory store driver.
type Memory struct {
	mu            sync.RWMutex
	presentations map[string]PresentationRecord
	elements      map[string]ElementRecord
}

func NewMemory() *Memory {
	return &Memory{
		presentations: map[string]PresentationRecord{},
		elements:      map[string]ElementRecord{},
	}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) Search(_ context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}
	m.mu.RLock()
	var results []Result
	if q.FilterType == "" || q.FilterType == ResultPresentation {
		for _, p := range m.presentations {
			if q.FilterDocumentID != "" && p.ID != q.FilterDocumentID {
				continue
			}
			if strings.Contains(strings.ToLower(p.Title), needle) {
				results = append(results, Result{Type: ResultPresentation, ID: p.ID, Title: p.Title, Snippet: p.Owner, DocumentID: p.ID})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultElement {
		for _, e := range m.elements {
			if q.FilterDocumentID != "" && e.DocumentID != q.FilterDocumentID {
				continue
			}
			if strings.Contains(strings.ToLower(e.Text), needle) {
				results = append(results, Result{Type: ResultElement, ID: e.ID, Title: e.Kind, Snippet: e.Text, DocumentID: e.DocumentID, PageID: e.PageID})
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Type != results[j].Type {
			return results[i].Type == ResultPresentation
		}
		return results[i].ID < results[j].ID
	})
	total := len(results)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if q.Offset >= total {
		return nil, total, nil
	}
	results = results[max(q.Offset, 0):]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

func (m *Memory) IndexPresentation(p PresentationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presentations[p.ID] = p
	return nil
}

func (m *Memory) IndexElements(elements []ElementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range elements {
		m.elements[e.ID] = e
	}
	return nil
}

func (m *Memory) DeletePresentation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.presentations, id)
	for eid, e := range m.elements {
		if e.DocumentID == id {
			delete(m.elements, eid)
		}
	}
	return nil
}

func (m *Memory) DeleteElements(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.elements, id)
	}
	return nil
}
