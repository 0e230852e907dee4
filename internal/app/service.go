package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"slidesync/api/internal/assets"
	"slidesync/api/internal/history"
	"slidesync/api/internal/mutation"
	"slidesync/api/internal/presence"
	"slidesync/api/internal/rbac"
	"slidesync/api/internal/search"
	"slidesync/api/internal/session"
	"slidesync/api/internal/store"
)

const (
	defaultTitle   = "Untitled presentation"
	maxTitleLength = 200
	maxNameLength  = 64
)

// EventDocumentDeleted tells a room its presentation is gone.
const EventDocumentDeleted = "document-deleted"

// Store is the read side the HTTP surface needs.
type Store interface {
	Ping(ctx context.Context) error
	ListDocuments(ctx context.Context) ([]store.DocumentSummary, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	CreateDocument(ctx context.Context, doc store.Document, first store.Page) (store.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	GetPage(ctx context.Context, id string) (store.Page, error)
	GetElement(ctx context.Context, id string) (store.Element, error)
	ListPagesWithElements(ctx context.Context, documentID string) ([]store.PageWithElements, error)
	GetParticipant(ctx context.Context, documentID, displayName string) (store.Participant, error)
	ListElementChanges(ctx context.Context, elementID string, limit int) ([]store.ElementChange, error)
}

type broadcaster interface {
	BroadcastToAll(documentID, event string, payload any)
}

// Deps are the collaborators of Service. Search, Assets and History are
// optional.
type Deps struct {
	Store    Store
	Pipeline *mutation.Pipeline
	Registry *session.Registry
	Presence *presence.Coordinator
	Rooms    broadcaster
	Search   *search.Service
	Assets   *assets.Storage
	History  *history.Service
	// Checks are extra readiness probes keyed by name, e.g. "redis".
	Checks map[string]func(context.Context) error
	NewID  func() string
	Log    zerolog.Logger
}

// Service implements the HTTP surface on top of the realtime components.
// HTTP callers act under the role stored for their display name.
type Service struct {
	store    Store
	pipeline *mutation.Pipeline
	registry *session.Registry
	presence *presence.Coordinator
	rooms    broadcaster
	search   *search.Service
	assets   *assets.Storage
	history  *history.Service
	checks   map[string]func(context.Context) error
	newID    func() string
	log      zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		pipeline: d.Pipeline,
		registry: d.Registry,
		presence: d.Presence,
		rooms:    d.Rooms,
		search:   d.Search,
		assets:   d.Assets,
		history:  d.History,
		checks:   d.Checks,
		newID:    d.NewID,
		log:      d.Log.With().Str("component", "service").Logger(),
	}
}

type PresentationView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type PresentationSummary struct {
	PresentationView
	PageCount          int `json:"pageCount"`
	ActiveParticipants int `json:"activeParticipants"`
}

// PresentationDetail is a fresh full read of a presentation.
type PresentationDetail struct {
	PresentationView
	Pages        []mutation.PageView        `json:"pages"`
	Participants []presence.ParticipantView `json:"participants"`
}

type ElementChangeView struct {
	ID        int64          `json:"id"`
	ElementID string         `json:"elementId"`
	PageID    string         `json:"pageId"`
	Action    string         `json:"action"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	Actor     string         `json:"actor"`
	CreatedAt time.Time      `json:"createdAt"`
}

func presentationView(doc store.Document) PresentationView {
	return PresentationView{ID: doc.ID, Title: doc.Title, Owner: doc.Owner, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt}
}

func pageViews(pages []store.PageWithElements) []mutation.PageView {
	out := make([]mutation.PageView, 0, len(pages))
	for _, p := range pages {
		out = append(out, mutation.PageViewOf(p))
	}
	return out
}

// Ping runs every readiness probe and returns the failures by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.store.Ping(ctx)}
	for name, check := range s.checks {
		results[name] = check(ctx)
	}
	return results
}

// actor resolves the participant a display name acts as in a presentation.
func (s *Service) actor(ctx context.Context, documentID, displayName string) (mutation.Actor, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return mutation.Actor{}, forbidden("X-Display-Name header is required")
	}
	p, err := s.store.GetParticipant(ctx, documentID, name)
	if errors.Is(err, store.ErrNotFound) {
		return mutation.Actor{}, forbidden(name + " has not joined this presentation")
	}
	if err != nil {
		return mutation.Actor{}, fmt.Errorf("resolve participant: %w", err)
	}
	return mutation.Actor{DocumentID: documentID, DisplayName: p.DisplayName, Role: p.Role}, nil
}

func (s *Service) documentOfPage(ctx context.Context, pageID string) (string, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if errors.Is(err, store.ErrNotFound) {
		return "", domainError(http.StatusNotFound, codeNotFound, "Page not found", nil)
	}
	if err != nil {
		return "", fmt.Errorf("get page: %w", err)
	}
	return page.DocumentID, nil
}

func (s *Service) ListPresentations(ctx context.Context) ([]PresentationSummary, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list presentations: %w", err)
	}
	out := make([]PresentationSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, PresentationSummary{
			PresentationView:   presentationView(d.Document),
			PageCount:          d.PageCount,
			ActiveParticipants: d.ActiveParticipants,
		})
	}
	return out, nil
}

// CreatePresentation creates a presentation with one empty page. The creator
// becomes its only owner.
func (s *Service) CreatePresentation(ctx context.Context, title, creator string) (PresentationView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return PresentationView{}, validation("title is too long")
	}
	creator = strings.TrimSpace(creator)
	if creator == "" || utf8.RuneCountInString(creator) > maxNameLength {
		return PresentationView{}, validation("creatorNickname is required")
	}

	doc, err := s.store.CreateDocument(ctx,
		store.Document{ID: s.newID(), Title: title, Owner: creator},
		store.Page{ID: s.newID(), Background: store.DefaultBackground},
	)
	if err != nil {
		return PresentationView{}, fmt.Errorf("create presentation: %w", err)
	}
	if s.search != nil {
		s.search.IndexPresentation(doc)
	}
	s.log.Info().Str("document_id", doc.ID).Str("owner", creator).Msg("presentation created")
	return presentationView(doc), nil
}

func (s *Service) GetPresentation(ctx context.Context, id string) (PresentationDetail, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return PresentationDetail{}, err
	}
	pages, err := s.store.ListPagesWithElements(ctx, id)
	if err != nil {
		return PresentationDetail{}, fmt.Errorf("list pages: %w", err)
	}
	active, err := s.registry.ListActive(ctx, id)
	if err != nil {
		return PresentationDetail{}, err
	}
	return PresentationDetail{
		PresentationView: presentationView(doc),
		Pages:            pageViews(pages),
		Participants:     presence.ViewsOf(active),
	}, nil
}

func (s *Service) UpdatePresentation(ctx context.Context, id, displayName, title string) (PresentationView, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return PresentationView{}, err
	}
	actor, err := s.actor(ctx, id, displayName)
	if err != nil {
		return PresentationView{}, err
	}
	doc, err := s.pipeline.UpdateDocument(ctx, actor, title)
	if err != nil {
		return PresentationView{}, err
	}
	return presentationView(doc), nil
}

// DeletePresentation removes a presentation and everything under it. Only
// the owner may do this.
func (s *Service) DeletePresentation(ctx context.Context, id, displayName string) error {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return err
	}
	actor, err := s.actor(ctx, id, displayName)
	if err != nil {
		return err
	}
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionManage) {
		return forbidden("only the owner can delete this presentation")
	}

	pages, err := s.store.ListPagesWithElements(ctx, id)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	var elementIDs []string
	for _, p := range pages {
		for _, e := range p.Elements {
			elementIDs = append(elementIDs, e.ID)
		}
	}

	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete presentation: %w", err)
	}
	s.rooms.BroadcastToAll(id, EventDocumentDeleted, map[string]any{"documentId": id})
	if s.search != nil {
		s.search.RemovePresentation(id, elementIDs)
	}
	if s.history != nil {
		if err := s.history.RemoveDocument(id); err != nil {
			s.log.Warn().Err(err).Str("document_id", id).Msg("remove history failed")
		}
	}
	s.log.Info().Str("document_id", id).Str("actor", actor.DisplayName).Msg("presentation deleted")
	return nil
}

func (s *Service) ListPages(ctx context.Context, documentID string) ([]mutation.PageView, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	pages, err := s.store.ListPagesWithElements(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pageViews(pages), nil
}

func (s *Service) AddPage(ctx context.Context, documentID, displayName string, position *int, background string) (mutation.PageView, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return mutation.PageView{}, err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return mutation.PageView{}, err
	}
	page, err := s.pipeline.AddPage(ctx, actor, position, background)
	if err != nil {
		return mutation.PageView{}, err
	}
	return mutation.PageViewOf(store.PageWithElements{Page: page}), nil
}

func (s *Service) ReorderPages(ctx context.Context, documentID, displayName string, pageIDs []string) ([]mutation.PageView, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return nil, err
	}
	pages, err := s.pipeline.ReorderPages(ctx, actor, pageIDs)
	if err != nil {
		return nil, err
	}
	out := make([]mutation.PageView, 0, len(pages))
	for _, p := range pages {
		out = append(out, mutation.PageViewOf(store.PageWithElements{Page: p}))
	}
	return out, nil
}

func (s *Service) DeletePage(ctx context.Context, pageID, displayName string) error {
	documentID, err := s.documentOfPage(ctx, pageID)
	if err != nil {
		return err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return err
	}
	return s.pipeline.DeletePage(ctx, actor, pageID)
}

func (s *Service) DuplicatePage(ctx context.Context, pageID, displayName string) (mutation.PageView, error) {
	documentID, err := s.documentOfPage(ctx, pageID)
	if err != nil {
		return mutation.PageView{}, err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return mutation.PageView{}, err
	}
	page, err := s.pipeline.DuplicatePage(ctx, actor, pageID)
	if err != nil {
		return mutation.PageView{}, err
	}
	return mutation.PageViewOf(page), nil
}

// SavePage replaces every element on a page.
func (s *Service) SavePage(ctx context.Context, pageID, displayName string, elements []mutation.ElementInput) ([]mutation.ElementView, error) {
	documentID, err := s.documentOfPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return nil, err
	}
	return s.pipeline.SavePage(ctx, actor, pageID, elements)
}

func (s *Service) CreateElement(ctx context.Context, pageID, displayName string, in mutation.ElementInput) (mutation.ElementView, error) {
	documentID, err := s.documentOfPage(ctx, pageID)
	if err != nil {
		return mutation.ElementView{}, err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return mutation.ElementView{}, err
	}
	return s.pipeline.CreateElement(ctx, actor, pageID, in)
}

func (s *Service) UpdateElement(ctx context.Context, elementID, displayName string, in mutation.ElementInput) (mutation.ElementView, error) {
	element, err := s.store.GetElement(ctx, elementID)
	if errors.Is(err, store.ErrNotFound) {
		return mutation.ElementView{}, domainError(http.StatusNotFound, codeNotFound, "Element not found", nil)
	}
	if err != nil {
		return mutation.ElementView{}, fmt.Errorf("get element: %w", err)
	}
	documentID, err := s.documentOfPage(ctx, element.PageID)
	if err != nil {
		return mutation.ElementView{}, err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return mutation.ElementView{}, err
	}
	return s.pipeline.UpdateElement(ctx, actor, mutation.UpdateRequest{ElementID: elementID, Element: in})
}

// DeleteElement succeeds for elements that are already gone.
func (s *Service) DeleteElement(ctx context.Context, elementID, displayName string) error {
	element, err := s.store.GetElement(ctx, elementID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get element: %w", err)
	}
	documentID, err := s.documentOfPage(ctx, element.PageID)
	if err != nil {
		return err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return err
	}
	return s.pipeline.DeleteElement(ctx, actor, elementID, element.PageID)
}

func (s *Service) ListParticipants(ctx context.Context, documentID string) ([]presence.ParticipantView, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	active, err := s.registry.ListActive(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return presence.ViewsOf(active), nil
}

func (s *Service) ChangeRole(ctx context.Context, documentID, displayName, target, role string) (presence.ParticipantView, error) {
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return presence.ParticipantView{}, err
	}
	p, err := s.presence.ChangeRole(ctx, actor.Role, documentID, target, role)
	if err != nil {
		return presence.ParticipantView{}, err
	}
	return presence.ViewsOf([]store.Participant{p})[0], nil
}

func (s *Service) History(ctx context.Context, documentID string, limit int) ([]history.Commit, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Commit{}, nil
	}
	return s.history.History(documentID, limit)
}

func (s *Service) PageSnapshot(ctx context.Context, documentID, hash, pageID string) (history.PageSnapshot, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return history.PageSnapshot{}, err
	}
	if s.history == nil {
		return history.PageSnapshot{}, history.ErrNoHistory
	}
	return s.history.Snapshot(documentID, hash, pageID)
}

func (s *Service) ElementChanges(ctx context.Context, elementID string, limit int) ([]ElementChangeView, error) {
	changes, err := s.store.ListElementChanges(ctx, elementID, limit)
	if err != nil {
		return nil, fmt.Errorf("list element changes: %w", err)
	}
	out := make([]ElementChangeView, 0, len(changes))
	for _, c := range changes {
		out = append(out, ElementChangeView{
			ID:        c.ID,
			ElementID: c.ElementID,
			PageID:    c.PageID,
			Action:    c.Action,
			Before:    c.Before,
			After:     c.After,
			Actor:     c.Actor,
			CreatedAt: c.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// UploadImage stores an image for use by image elements of a presentation.
func (s *Service) UploadImage(ctx context.Context, documentID, displayName, contentType string, body io.Reader, size int64) (assets.Asset, error) {
	if s.assets == nil {
		return assets.Asset{}, domainError(http.StatusServiceUnavailable, "ASSETS_UNAVAILABLE", "Image uploads are not configured", nil)
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return assets.Asset{}, err
	}
	actor, err := s.actor(ctx, documentID, displayName)
	if err != nil {
		return assets.Asset{}, err
	}
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionWrite) {
		return assets.Asset{}, forbidden("viewers cannot upload images")
	}
	if _, err := assets.ValidateContentType(contentType); err != nil {
		return assets.Asset{}, err
	}
	asset, err := s.assets.PutImage(ctx, documentID, s.newID(), contentType, body, size)
	if err != nil {
		return assets.Asset{}, fmt.Errorf("upload image: %w", err)
	}
	return asset, nil
}
