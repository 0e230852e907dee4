// Package search indexes presentation titles and element text.
package search

import (
	"context"
	"strings"

	"slidesync/api/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPresentation ResultType = "presentation"
	ResultElement      ResultType = "element"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	PageID     string     `json:"pageId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPresentation(p PresentationRecord) error
	IndexElements(elements []ElementRecord) error
	DeletePresentation(id string) error
	DeleteElements(ids []string) error
}

// PresentationRecord is the data we index for a presentation.
type PresentationRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner"`
}

// ElementRecord is the data we index for an element carrying text.
type ElementRecord struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Kind       string `json:"kind"`
	DocumentID string `json:"documentId"`
	PageID     string `json:"pageId"`
}

func PresentationRecordOf(doc store.Document) PresentationRecord {
	return PresentationRecord{ID: doc.ID, Title: doc.Title, Owner: doc.Owner}
}

// ElementRecordOf returns the record for e, or false when e has no text
// worth indexing.
func ElementRecordOf(documentID string, e store.Element) (ElementRecord, bool) {
	text := elementText(e)
	if text == "" {
		return ElementRecord{}, false
	}
	return ElementRecord{ID: e.ID, Text: text, Kind: e.Kind, DocumentID: documentID, PageID: e.PageID}, true
}

func elementText(e store.Element) string {
	var parts []string
	for _, key := range []string{"text", "alt", "label"} {
		if s, ok := e.Content[key].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, " ")
}
