package mutation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slidesync/api/internal/rbac"
	"slidesync/api/internal/store"
)

// Outbound event names.
const (
	EventElementCreated  = "element-created"
	EventElementUpdated  = "element-updated"
	EventElementDeleted  = "element-deleted"
	EventPageAdded       = "page-added"
	EventPageDeleted     = "page-deleted"
	EventPagesReordered  = "pages-reordered"
	EventPageDuplicated  = "page-duplicated"
	EventPageSaved       = "page-saved"
	EventDocumentUpdated = "document-updated"
	EventError           = "error"
)

const maxTitleLength = 200

// Store is the persistence the pipeline writes through.
type Store interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	UpdateDocumentTitle(ctx context.Context, id, title string, at time.Time) (store.Document, error)
	TouchDocument(ctx context.Context, id string, at time.Time) error
	ListPages(ctx context.Context, documentID string) ([]store.Page, error)
	GetPage(ctx context.Context, id string) (store.Page, error)
	InsertPage(ctx context.Context, page store.Page) (store.Page, error)
	DeletePage(ctx context.Context, id string) (store.Page, error)
	ReorderPages(ctx context.Context, documentID string, order []string) ([]store.Page, error)
	DuplicatePage(ctx context.Context, pageID, newPageID string, elementID func(string) string) (store.PageWithElements, error)
	ListElements(ctx context.Context, pageID string) ([]store.Element, error)
	GetElement(ctx context.Context, id string) (store.Element, error)
	InsertElement(ctx context.Context, e store.Element) (store.Element, error)
	UpdateElement(ctx context.Context, id string, apply func(*store.Element) error) (store.Element, error)
	DeleteElement(ctx context.Context, id string) (store.Element, bool, error)
	ReplacePageElements(ctx context.Context, pageID string, elements []store.Element) ([]store.Element, error)
	InsertElementChange(ctx context.Context, c store.ElementChange) error
}

// Broadcaster fans events out to a document's room.
type Broadcaster interface {
	BroadcastToOthers(sender, documentID, event string, payload any)
	SendTo(connectionID, event string, payload any)
}

// Observer is told about changes after they were persisted.
type Observer interface {
	DocumentChanged(doc store.Document)
	ElementChanged(documentID string, e store.Element)
	ElementRemoved(documentID, elementID string)
	PageSaved(documentID, pageID, actor string, elements []store.Element)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) DocumentChanged(store.Document)                    {}
func (NopObserver) ElementChanged(string, store.Element)              {}
func (NopObserver) ElementRemoved(string, string)                     {}
func (NopObserver) PageSaved(string, string, string, []store.Element) {}

// Actor is the participant a mutation is attributed to. ConnectionID is
// empty for HTTP callers, in which case broadcasts reach every member.
type Actor struct {
	ConnectionID string
	DocumentID   string
	DisplayName  string
	Role         string
}

type Options struct {
	// Debounce is the quiet period before a coalesced element update is
	// persisted. Zero persists every update immediately.
	Debounce     time.Duration
	StoreTimeout time.Duration
	NewID        func() string
	Now          func() time.Time
	Observers    []Observer
}

// Pipeline validates mutations, broadcasts their canonical form to the room
// and then persists them. Peers see a change before it is durable; the store
// write that lands last wins.
type Pipeline struct {
	store     Store
	rooms     Broadcaster
	log       zerolog.Logger
	timeout   time.Duration
	newID     func() string
	now       func() time.Time
	observers []Observer
	debounce  *debouncer

	// page id -> document id; pages never move between documents
	pageOwners sync.Map
}

func New(st Store, rooms Broadcaster, log zerolog.Logger, opts Options) *Pipeline {
	p := &Pipeline{
		store:     st,
		rooms:     rooms,
		log:       log.With().Str("component", "mutation").Logger(),
		timeout:   opts.StoreTimeout,
		newID:     opts.NewID,
		now:       opts.Now,
		observers: opts.Observers,
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	if p.newID == nil {
		panic("mutation: Options.NewID is required")
	}
	if opts.Debounce > 0 {
		p.debounce = newDebouncer(opts.Debounce, p.persistDebounced)
	}
	return p
}

// Flush persists every coalesced update still waiting for its window. It is
// called on shutdown.
func (p *Pipeline) Flush() {
	if p.debounce != nil {
		p.debounce.flush()
	}
}

// Pending reports how many elements have coalesced updates waiting.
func (p *Pipeline) Pending() int {
	if p.debounce == nil {
		return 0
	}
	return p.debounce.size()
}

// persistContext detaches from the caller so a write survives the
// originating connection going away.
func (p *Pipeline) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
}

func (p *Pipeline) authorize(actor Actor) error {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionWrite) {
		return forbidden("role " + actor.Role + " cannot edit this presentation")
	}
	return nil
}

// pageDocument checks that pageID belongs to the actor's document.
func (p *Pipeline) pageDocument(ctx context.Context, actor Actor, pageID string) error {
	if strings.TrimSpace(pageID) == "" {
		return invalid("pageId is required")
	}
	documentID, ok := p.pageOwners.Load(pageID)
	if !ok {
		page, err := p.store.GetPage(ctx, pageID)
		if err != nil {
			return fromStore("page", err)
		}
		documentID, _ = p.pageOwners.LoadOrStore(pageID, page.DocumentID)
	}
	if documentID.(string) != actor.DocumentID {
		return notFound("page")
	}
	return nil
}

// afterWrite records activity on the document. Failures are logged only.
func (p *Pipeline) afterWrite(ctx context.Context, documentID string) {
	if err := p.store.TouchDocument(ctx, documentID, p.now()); err != nil {
		p.log.Warn().Err(err).Str("document_id", documentID).Msg("touch document failed")
	}
}

func (p *Pipeline) recordChange(ctx context.Context, c store.ElementChange) {
	if err := p.store.InsertElementChange(ctx, c); err != nil {
		p.log.Warn().Err(err).Str("element_id", c.ElementID).Str("action", c.Action).Msg("record element change failed")
	}
}

// CreateElement adds an element to a page and returns it as stored. The id is
// minted here when the client did not choose one.
func (p *Pipeline) CreateElement(ctx context.Context, actor Actor, pageID string, in ElementInput) (ElementView, error) {
	if err := p.authorize(actor); err != nil {
		return ElementView{}, err
	}
	if err := p.pageDocument(ctx, actor, pageID); err != nil {
		return ElementView{}, err
	}
	element, err := NormalizeNew(in, pageID, p.newID)
	if err != nil {
		return ElementView{}, err
	}
	if in.ID != "" {
		_, err := p.store.GetElement(ctx, element.ID)
		switch {
		case err == nil:
			return ElementView{}, invalid("element id %s already exists", element.ID)
		case !errors.Is(err, store.ErrNotFound):
			return ElementView{}, fromStore("element", err)
		}
	}

	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventElementCreated, map[string]any{
		"pageId":  pageID,
		"element": ViewOf(element),
	})

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	stored, err := p.store.InsertElement(wctx, element)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Info().Str("page_id", pageID).Msg("page deleted before element persisted")
		return ViewOf(element), stale("page", err)
	}
	if err != nil {
		p.log.Error().Err(err).Str("document_id", actor.DocumentID).Str("element_id", element.ID).Msg("persist created element failed")
		return ViewOf(element), persistFailed("create element", err)
	}
	p.afterWrite(wctx, actor.DocumentID)
	p.recordChange(wctx, store.ElementChange{
		ElementID: stored.ID,
		PageID:    stored.PageID,
		Action:    store.ChangeCreate,
		After:     stored.Snapshot(),
		Actor:     actor.DisplayName,
	})
	for _, o := range p.observers {
		o.ElementChanged(actor.DocumentID, stored)
	}
	return ViewOf(stored), nil
}

// UpdateRequest carries a partial element update. Snapshot, when present, is
// used as the merge base if the element cannot be read.
type UpdateRequest struct {
	ElementID string
	PageID    string
	Element   ElementInput
	Snapshot  *ElementInput
}

// UpdateElement broadcasts the canonical updated element and persists the
// delta, immediately or after the debounce window.
func (p *Pipeline) UpdateElement(ctx context.Context, actor Actor, req UpdateRequest) (ElementView, error) {
	if err := p.authorize(actor); err != nil {
		return ElementView{}, err
	}
	if strings.TrimSpace(req.ElementID) == "" {
		return ElementView{}, invalid("elementId is required")
	}
	patch, err := ParsePatch(req.Element)
	if err != nil {
		return ElementView{}, err
	}

	base, err := p.mergeBase(ctx, req)
	if err != nil {
		return ElementView{}, err
	}
	if req.PageID != "" && req.PageID != base.PageID {
		return ElementView{}, invalid("element %s is not on page %s", req.ElementID, req.PageID)
	}
	if err := p.pageDocument(ctx, actor, base.PageID); err != nil {
		return ElementView{}, err
	}
	delta, canonical, err := patch.Resolve(base)
	if err != nil {
		return ElementView{}, err
	}

	view := ViewOf(canonical)
	view.UpdatedAt = nil
	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventElementUpdated, map[string]any{
		"elementId": canonical.ID,
		"pageId":    canonical.PageID,
		"element":   view,
	})

	update := pendingUpdate{
		ElementID:  canonical.ID,
		DocumentID: actor.DocumentID,
		PageID:     canonical.PageID,
		Actor:      actor,
		Delta:      delta,
	}
	if p.debounce != nil {
		p.debounce.add(update)
		return view, nil
	}

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	stored, err := p.persistUpdate(wctx, update)
	if err != nil {
		return view, err
	}
	return ViewOf(stored), nil
}

// mergeBase is the last known state of the element: the stored row with any
// coalesced but unpersisted delta on top.
func (p *Pipeline) mergeBase(ctx context.Context, req UpdateRequest) (store.Element, error) {
	base, err := p.store.GetElement(ctx, req.ElementID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound) && req.Snapshot != nil:
		snapshot := *req.Snapshot
		snapshot.ID = req.ElementID
		return NormalizeNew(snapshot, req.PageID, p.newID)
	case errors.Is(err, store.ErrNotFound):
		p.log.Info().Str("element_id", req.ElementID).Msg("update for unknown element dropped")
		return store.Element{}, stale("element", err)
	default:
		return store.Element{}, fromStore("element", err)
	}
	if p.debounce != nil {
		if pending, ok := p.debounce.peek(req.ElementID); ok {
			pending.Apply(&base)
		}
	}
	return base, nil
}

func (p *Pipeline) persistUpdate(ctx context.Context, u pendingUpdate) (store.Element, error) {
	var before store.Element
	stored, err := p.store.UpdateElement(ctx, u.ElementID, func(current *store.Element) error {
		before = current.Clone()
		u.Delta.Apply(current)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		p.log.Info().Str("document_id", u.DocumentID).Str("element_id", u.ElementID).Msg("element deleted before update persisted")
		return store.Element{}, stale("element", err)
	}
	if err != nil {
		p.log.Error().Err(err).Str("document_id", u.DocumentID).Str("element_id", u.ElementID).Msg("persist element update failed")
		return store.Element{}, persistFailed("update element", err)
	}
	p.afterWrite(ctx, u.DocumentID)
	p.recordChange(ctx, store.ElementChange{
		ElementID: stored.ID,
		PageID:    stored.PageID,
		Action:    store.ChangeUpdate,
		Before:    before.Snapshot(),
		After:     stored.Snapshot(),
		Actor:     u.Actor.DisplayName,
	})
	for _, o := range p.observers {
		o.ElementChanged(u.DocumentID, stored)
	}
	return stored, nil
}

// persistDebounced runs when an element's window closes. Nobody is waiting
// for the result, so failures go straight to the originating connection.
func (p *Pipeline) persistDebounced(u pendingUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_, err := p.persistUpdate(ctx, u)
	if err == nil || IsStale(err) || u.Actor.ConnectionID == "" {
		return
	}
	p.rooms.SendTo(u.Actor.ConnectionID, EventError, map[string]any{
		"code":      string(KindOf(err)),
		"message":   "could not save element " + u.ElementID,
		"elementId": u.ElementID,
	})
}

// DeleteElement removes an element. Deleting an element that is already gone
// succeeds.
func (p *Pipeline) DeleteElement(ctx context.Context, actor Actor, elementID, pageID string) error {
	if err := p.authorize(actor); err != nil {
		return err
	}
	if strings.TrimSpace(elementID) == "" {
		return invalid("elementId is required")
	}
	existing, err := p.store.GetElement(ctx, elementID)
	switch {
	case err == nil:
		pageID = existing.PageID
	case errors.Is(err, store.ErrNotFound):
		if pageID == "" {
			return nil
		}
	default:
		return fromStore("element", err)
	}
	if err := p.pageDocument(ctx, actor, pageID); err != nil {
		if KindOf(err) == KindNotFound {
			return nil
		}
		return err
	}

	if p.debounce != nil {
		p.debounce.cancel(elementID)
	}
	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventElementDeleted, map[string]any{
		"elementId": elementID,
		"pageId":    pageID,
	})

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	removed, ok, err := p.store.DeleteElement(wctx, elementID)
	if err != nil {
		p.log.Error().Err(err).Str("element_id", elementID).Msg("persist element delete failed")
		return persistFailed("delete element", err)
	}
	if !ok {
		return nil
	}
	p.afterWrite(wctx, actor.DocumentID)
	p.recordChange(wctx, store.ElementChange{
		ElementID: removed.ID,
		PageID:    removed.PageID,
		Action:    store.ChangeDelete,
		Before:    removed.Snapshot(),
		Actor:     actor.DisplayName,
	})
	for _, o := range p.observers {
		o.ElementRemoved(actor.DocumentID, elementID)
	}
	return nil
}

// AddPage inserts a page at position, or after the last page when position
// is nil.
func (p *Pipeline) AddPage(ctx context.Context, actor Actor, position *int, background string) (store.Page, error) {
	if err := p.authorize(actor); err != nil {
		return store.Page{}, err
	}
	if position != nil && *position < 0 {
		return store.Page{}, invalid("position must not be negative")
	}
	background = strings.TrimSpace(background)
	if background == "" {
		background = store.DefaultBackground
	}
	if len(background) > 64 {
		return store.Page{}, invalid("background is too long")
	}
	pages, err := p.store.ListPages(ctx, actor.DocumentID)
	if err != nil {
		return store.Page{}, fromStore("presentation", err)
	}

	// Deletes leave gaps, so the end is max+1 rather than the page count.
	next := 0
	for _, pg := range pages {
		if pg.Position+1 > next {
			next = pg.Position + 1
		}
	}
	page := store.Page{ID: p.newID(), DocumentID: actor.DocumentID, Position: next, Background: background}
	if position != nil && *position < next {
		page.Position = *position
	}
	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventPageAdded, map[string]any{
		"page": pageView(page, nil),
	})

	insert := page
	if position == nil {
		// the store appends at its own max+1
		insert.Position = -1
	}
	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	stored, err := p.store.InsertPage(wctx, insert)
	if err != nil {
		p.log.Error().Err(err).Str("document_id", actor.DocumentID).Msg("persist page add failed")
		return page, persistFailed("add page", err)
	}
	p.pageOwners.Store(stored.ID, stored.DocumentID)
	p.afterWrite(wctx, actor.DocumentID)
	return stored, nil
}

// DeletePage removes a page with its elements. The last page is refused.
func (p *Pipeline) DeletePage(ctx context.Context, actor Actor, pageID string) error {
	if err := p.authorize(actor); err != nil {
		return err
	}
	if err := p.pageDocument(ctx, actor, pageID); err != nil {
		return err
	}
	pages, err := p.store.ListPages(ctx, actor.DocumentID)
	if err != nil {
		return fromStore("presentation", err)
	}
	if len(pages) <= 1 {
		return invalid("a presentation must keep at least one page")
	}

	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventPageDeleted, map[string]any{
		"pageId": pageID,
	})

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	_, err = p.store.DeletePage(wctx, pageID)
	switch {
	case errors.Is(err, store.ErrLastPage):
		return invalid("a presentation must keep at least one page")
	case errors.Is(err, store.ErrNotFound):
		p.log.Info().Str("page_id", pageID).Msg("page already deleted")
		return stale("page", err)
	case err != nil:
		p.log.Error().Err(err).Str("page_id", pageID).Msg("persist page delete failed")
		return persistFailed("delete page", err)
	}
	p.pageOwners.Delete(pageID)
	p.afterWrite(wctx, actor.DocumentID)
	return nil
}

// ReorderPages moves the listed pages to the front in the given order.
func (p *Pipeline) ReorderPages(ctx context.Context, actor Actor, pageIDs []string) ([]store.Page, error) {
	if err := p.authorize(actor); err != nil {
		return nil, err
	}
	if len(pageIDs) == 0 {
		return nil, invalid("pageIds must not be empty")
	}
	pages, err := p.store.ListPages(ctx, actor.DocumentID)
	if err != nil {
		return nil, fromStore("presentation", err)
	}
	current := make([]string, len(pages))
	for i, page := range pages {
		current[i] = page.ID
	}
	final, err := store.MergeOrder(current, pageIDs)
	if err != nil {
		return nil, invalid("pageIds must name distinct pages of this presentation")
	}

	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventPagesReordered, map[string]any{
		"pageIds": final,
	})

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	reordered, err := p.store.ReorderPages(wctx, actor.DocumentID, pageIDs)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Info().Str("document_id", actor.DocumentID).Msg("reorder raced with a page delete")
		return nil, stale("page", err)
	}
	if err != nil {
		p.log.Error().Err(err).Str("document_id", actor.DocumentID).Msg("persist page reorder failed")
		return nil, persistFailed("reorder pages", err)
	}
	p.afterWrite(wctx, actor.DocumentID)
	return reordered, nil
}

// DuplicatePage copies a page and its elements directly after it.
func (p *Pipeline) DuplicatePage(ctx context.Context, actor Actor, pageID string) (store.PageWithElements, error) {
	if err := p.authorize(actor); err != nil {
		return store.PageWithElements{}, err
	}
	if err := p.pageDocument(ctx, actor, pageID); err != nil {
		return store.PageWithElements{}, err
	}
	source, err := p.store.GetPage(ctx, pageID)
	if err != nil {
		return store.PageWithElements{}, fromStore("page", err)
	}
	elements, err := p.store.ListElements(ctx, pageID)
	if err != nil {
		return store.PageWithElements{}, fromStore("page", err)
	}

	copyID := p.newID()
	ids := make(map[string]string, len(elements))
	copies := make([]store.Element, 0, len(elements))
	for _, e := range elements {
		c := e.Clone()
		c.ID = p.newID()
		c.PageID = copyID
		ids[e.ID] = c.ID
		copies = append(copies, c)
	}
	preview := store.Page{ID: copyID, DocumentID: actor.DocumentID, Position: source.Position + 1, Background: source.Background}
	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventPageDuplicated, map[string]any{
		"sourcePageId": pageID,
		"page":         pageView(preview, copies),
	})

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	stored, err := p.store.DuplicatePage(wctx, pageID, copyID, func(old string) string {
		if id, ok := ids[old]; ok {
			return id
		}
		return p.newID()
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.PageWithElements{}, stale("page", err)
	}
	if err != nil {
		p.log.Error().Err(err).Str("page_id", pageID).Msg("persist page duplicate failed")
		return store.PageWithElements{}, persistFailed("duplicate page", err)
	}
	p.pageOwners.Store(stored.ID, stored.DocumentID)
	p.afterWrite(wctx, actor.DocumentID)
	for _, o := range p.observers {
		for _, e := range stored.Elements {
			o.ElementChanged(actor.DocumentID, e)
		}
	}
	return stored, nil
}

// UpdateDocument overwrites the title. Concurrent edits resolve by whichever
// write the store applies last.
func (p *Pipeline) UpdateDocument(ctx context.Context, actor Actor, title string) (store.Document, error) {
	if err := p.authorize(actor); err != nil {
		return store.Document{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Document{}, invalid("title is required")
	}
	if len(title) > maxTitleLength {
		return store.Document{}, invalid("title is too long")
	}
	if _, err := p.store.GetDocument(ctx, actor.DocumentID); err != nil {
		return store.Document{}, fromStore("presentation", err)
	}

	at := p.now()
	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventDocumentUpdated, map[string]any{
		"documentId": actor.DocumentID,
		"title":      title,
		"updatedAt":  at,
	})

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	doc, err := p.store.UpdateDocumentTitle(wctx, actor.DocumentID, title, at)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, stale("presentation", err)
	}
	if err != nil {
		p.log.Error().Err(err).Str("document_id", actor.DocumentID).Msg("persist title failed")
		return store.Document{}, persistFailed("update presentation", err)
	}
	for _, o := range p.observers {
		o.DocumentChanged(doc)
	}
	return doc, nil
}

// SavePage replaces every element of a page with the given set.
func (p *Pipeline) SavePage(ctx context.Context, actor Actor, pageID string, inputs []ElementInput) ([]ElementView, error) {
	if err := p.authorize(actor); err != nil {
		return nil, err
	}
	if err := p.pageDocument(ctx, actor, pageID); err != nil {
		return nil, err
	}
	elements := make([]store.Element, 0, len(inputs))
	seen := map[string]bool{}
	for i, in := range inputs {
		e, err := NormalizeNew(in, pageID, p.newID)
		if err != nil {
			var mErr *Error
			if errors.As(err, &mErr) {
				mErr.Message = "elements[" + strconv.Itoa(i) + "]: " + mErr.Message
			}
			return nil, err
		}
		if seen[e.ID] {
			return nil, invalid("element id %s appears twice", e.ID)
		}
		seen[e.ID] = true
		elements = append(elements, e)
	}
	previous, err := p.store.ListElements(ctx, pageID)
	if err != nil {
		return nil, fromStore("page", err)
	}

	p.rooms.BroadcastToOthers(actor.ConnectionID, actor.DocumentID, EventPageSaved, map[string]any{
		"pageId":   pageID,
		"elements": ViewsOf(elements),
	})
	if p.debounce != nil {
		for _, e := range previous {
			p.debounce.cancel(e.ID)
		}
	}

	wctx, cancel := p.persistContext(ctx)
	defer cancel()
	stored, err := p.store.ReplacePageElements(wctx, pageID, elements)
	if errors.Is(err, store.ErrNotFound) {
		return nil, stale("page", err)
	}
	if err != nil {
		p.log.Error().Err(err).Str("page_id", pageID).Msg("persist page save failed")
		return nil, persistFailed("save page", err)
	}
	p.afterWrite(wctx, actor.DocumentID)
	kept := map[string]bool{}
	for _, e := range stored {
		kept[e.ID] = true
	}
	for _, o := range p.observers {
		for _, e := range previous {
			if !kept[e.ID] {
				o.ElementRemoved(actor.DocumentID, e.ID)
			}
		}
		o.PageSaved(actor.DocumentID, pageID, actor.DisplayName, stored)
	}
	return ViewsOf(stored), nil
}

// PageView is the wire form of a page.
type PageView struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"documentId"`
	Position   int           `json:"position"`
	Background string        `json:"background"`
	Elements   []ElementView `json:"elements"`
}

func pageView(page store.Page, elements []store.Element) PageView {
	return PageView{
		ID:         page.ID,
		DocumentID: page.DocumentID,
		Position:   page.Position,
		Background: page.Background,
		Elements:   ViewsOf(elements),
	}
}

func PageViewOf(page store.PageWithElements) PageView {
	return pageView(page.Page, page.Elements)
}

