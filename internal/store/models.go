package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrLastPage is returned when deleting the only page of a document.
	ErrLastPage = errors.New("document must keep at least one page")
)

const (
	KindText    = "text"
	KindShape   = "shape"
	KindImage   = "image"
	KindDrawing = "drawing"
)

const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

const DefaultBackground = "#ffffff"

type Document struct {
	ID        string
	Title     string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentSummary is a listing row with derived counters.
type DocumentSummary struct {
	Document
	PageCount          int
	ActiveParticipants int
}

type Page struct {
	ID         string
	DocumentID string
	Position   int
	Background string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PageWithElements struct {
	Page
	Elements []Element
}

type Element struct {
	ID        string
	PageID    string
	Kind      string
	X         float64
	Y         float64
	Width     float64
	Height    float64
	Content   Payload
	Style     Payload
	Z         int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Participant struct {
	ID           int64
	DocumentID   string
	DisplayName  string
	ConnectionID string
	Role         string
	Active       bool
	JoinedAt     time.Time
}

type ElementChange struct {
	ID        int64
	ElementID string
	PageID    string
	Action    string
	Before    Payload
	After     Payload
	Actor     string
	CreatedAt time.Time
}

// Payload is an open JSON object stored as JSONB.
type Payload map[string]any

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return string(raw), nil
}

func (p *Payload) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan payload: unsupported type %T", src)
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("scan payload: %w", err)
	}
	*p = decoded
	return nil
}

// Clone returns a shallow copy. Values are JSON primitives or trees that are
// never mutated in place, so sharing them is safe.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Clone returns a copy of e whose maps can be modified independently.
func (e Element) Clone() Element {
	e.Content = e.Content.Clone()
	e.Style = e.Style.Clone()
	return e
}

// Snapshot flattens e into a Payload for the change log.
func (e Element) Snapshot() Payload {
	return Payload{
		"id":      e.ID,
		"pageId":  e.PageID,
		"type":    e.Kind,
		"x":       e.X,
		"y":       e.Y,
		"width":   e.Width,
		"height":  e.Height,
		"content": map[string]any(e.Content.Clone()),
		"styles":  map[string]any(e.Style.Clone()),
		"zIndex":  e.Z,
	}
}
