package mutation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidesync/api/internal/store"
)

func TestCreateElementBroadcastsThenPersists(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	view, err := f.pipeline.CreateElement(ctx, f.owner, f.page.ID, ElementInput{Type: "shape", ZIndex: Num(1000000)})
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, MaxZ, view.ZIndex)

	created := f.rooms.named(EventElementCreated)
	require.Len(t, created, 1)
	assert.Equal(t, f.owner.ConnectionID, created[0].Sender)
	assert.Equal(t, f.doc.ID, created[0].DocumentID)
	assert.Equal(t, view.ID, created[0].Payload["element"].(ElementView).ID)

	stored, err := f.store.GetElement(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxZ, stored.Z)

	changes, err := f.store.ListElementChanges(ctx, view.ID, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, store.ChangeCreate, changes[0].Action)
	assert.Equal(t, "alice", changes[0].Actor)
}

func TestViewerCannotMutate(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	existing := f.createText(t, "keep")
	before := len(f.rooms.all())

	_, err := f.pipeline.CreateElement(ctx, f.viewer, f.page.ID, ElementInput{Type: "text"})
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.pipeline.UpdateElement(ctx, f.viewer, UpdateRequest{ElementID: existing.ID, Element: ElementInput{X: Num(1)}})
	assert.Equal(t, KindForbidden, KindOf(err))

	err = f.pipeline.DeleteElement(ctx, f.viewer, existing.ID, f.page.ID)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.pipeline.AddPage(ctx, f.viewer, nil, "")
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.pipeline.UpdateDocument(ctx, f.viewer, "mine now")
	assert.Equal(t, KindForbidden, KindOf(err))

	assert.Len(t, f.rooms.all(), before, "rejected mutations must not broadcast")
	stored, err := f.store.GetElement(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(10), stored.X)
}

func TestValidationErrorNeitherBroadcastsNorPersists(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.pipeline.CreateElement(ctx, f.owner, f.page.ID, ElementInput{Type: "hologram"})
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Empty(t, f.rooms.all())

	elements, err := f.store.ListElements(ctx, f.page.ID)
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestUpdateMergesStyleAndPersists(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "hello")

	view, err := f.pipeline.UpdateElement(ctx, f.editor, UpdateRequest{
		ElementID: el.ID,
		PageID:    f.page.ID,
		Element:   ElementInput{Styles: map[string]any{"fontSize": 14.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"color": "red", "fontSize": 14.0}, view.Styles)

	updated := f.rooms.named(EventElementUpdated)
	require.Len(t, updated, 1)
	broadcast := updated[0].Payload["element"].(ElementView)
	assert.Equal(t, float64(10), broadcast.X, "omitted geometry is filled from the stored element")
	assert.Equal(t, map[string]any{"color": "red", "fontSize": 14.0}, broadcast.Styles)

	stored, err := f.store.GetElement(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, store.Payload{"color": "red", "fontSize": 14.0}, stored.Style)
	assert.Equal(t, "hello", stored.Content["text"])
}

func TestUpdateOfMissingElementIsStale(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.pipeline.UpdateElement(context.Background(), f.owner, UpdateRequest{
		ElementID: uuid.NewString(),
		Element:   ElementInput{X: Num(5)},
	})
	assert.True(t, IsStale(err))
	assert.Empty(t, f.rooms.all())
}

func TestUpdateWithSnapshotBroadcastsButPersistIsStale(t *testing.T) {
	f := newFixture(t, 0)

	view, err := f.pipeline.UpdateElement(context.Background(), f.owner, UpdateRequest{
		ElementID: "gone",
		PageID:    f.page.ID,
		Element:   ElementInput{X: Num(5)},
		Snapshot:  &ElementInput{Type: "text", Y: Num(8)},
	})
	assert.True(t, IsStale(err))
	assert.Equal(t, float64(5), view.X)
	assert.Equal(t, float64(8), view.Y)
	assert.Len(t, f.rooms.named(EventElementUpdated), 1)
}

func TestUpdateAfterConcurrentDeleteIsBenign(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "short lived")

	_, _, err := f.store.DeleteElement(ctx, el.ID)
	require.NoError(t, err)

	_, err = f.pipeline.UpdateElement(ctx, f.owner, UpdateRequest{ElementID: el.ID, Element: ElementInput{X: Num(1)}})
	assert.True(t, IsStale(err))
	_, err = f.store.GetElement(ctx, el.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "bye")

	require.NoError(t, f.pipeline.DeleteElement(ctx, f.owner, el.ID, f.page.ID))
	require.NoError(t, f.pipeline.DeleteElement(ctx, f.owner, el.ID, f.page.ID))
	require.NoError(t, f.pipeline.DeleteElement(ctx, f.owner, el.ID, ""))

	_, err := f.store.GetElement(ctx, el.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	changes, err := f.store.ListElementChanges(ctx, el.ID, 10)
	require.NoError(t, err)
	deletes := 0
	for _, c := range changes {
		if c.Action == store.ChangeDelete {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)
}

func TestPersistFailureIsReturnedAfterBroadcast(t *testing.T) {
	f := newFixture(t, 0)
	f.store.failInsert = errors.New("disk on fire")

	_, err := f.pipeline.CreateElement(context.Background(), f.owner, f.page.ID, ElementInput{Type: "text"})
	assert.Equal(t, KindStore, KindOf(err))
	assert.Len(t, f.rooms.named(EventElementCreated), 1, "peers already saw the optimistic create")
}

func TestRoomIsolation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "private")

	other, err := f.store.CreateDocument(ctx,
		store.Document{ID: uuid.NewString(), Title: "Other", Owner: "mallory"},
		store.Page{ID: uuid.NewString(), Background: store.DefaultBackground},
	)
	require.NoError(t, err)
	intruder := Actor{ConnectionID: "conn-mallory", DocumentID: other.ID, DisplayName: "mallory", Role: "owner"}
	before := len(f.rooms.all())

	_, err = f.pipeline.CreateElement(ctx, intruder, f.page.ID, ElementInput{Type: "text"})
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = f.pipeline.UpdateElement(ctx, intruder, UpdateRequest{ElementID: el.ID, Element: ElementInput{X: Num(0)}})
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.NoError(t, f.pipeline.DeleteElement(ctx, intruder, el.ID, ""))

	assert.Len(t, f.rooms.all(), before)
	_, err = f.store.GetElement(ctx, el.ID)
	assert.NoError(t, err)
}

func TestLastPageCannotBeDeleted(t *testing.T) {
	f := newFixture(t, 0)

	err := f.pipeline.DeletePage(context.Background(), f.owner, f.page.ID)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Empty(t, f.rooms.all())

	pages, err := f.store.ListPages(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestPageLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "on first page")

	second, err := f.pipeline.AddPage(ctx, f.editor, nil, "#000000")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Position)
	require.Len(t, f.rooms.named(EventPageAdded), 1)

	front, err := f.pipeline.AddPage(ctx, f.editor, intPtr(0), "")
	require.NoError(t, err)
	assert.Equal(t, 0, front.Position)

	copied, err := f.pipeline.DuplicatePage(ctx, f.editor, f.page.ID)
	require.NoError(t, err)
	require.Len(t, copied.Elements, 1)
	assert.NotEqual(t, el.ID, copied.Elements[0].ID)
	dup := f.rooms.named(EventPageDuplicated)
	require.Len(t, dup, 1)
	preview := dup[0].Payload["page"].(PageView)
	assert.Equal(t, copied.ID, preview.ID)
	assert.Equal(t, copied.Elements[0].ID, preview.Elements[0].ID, "broadcast ids match persisted ids")

	reordered, err := f.pipeline.ReorderPages(ctx, f.editor, []string{second.ID})
	require.NoError(t, err)
	assert.Equal(t, second.ID, reordered[0].ID)
	require.Len(t, f.rooms.named(EventPagesReordered), 1)

	_, err = f.pipeline.ReorderPages(ctx, f.editor, []string{"nope"})
	assert.Equal(t, KindValidation, KindOf(err))

	require.NoError(t, f.pipeline.DeletePage(ctx, f.editor, f.page.ID))
	_, err = f.store.GetElement(ctx, el.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "page delete cascades to its elements")

	err = f.pipeline.DeletePage(ctx, f.editor, f.page.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestAppendAfterDeleteGoesLast(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	b, err := f.pipeline.AddPage(ctx, f.editor, nil, "")
	require.NoError(t, err)
	c, err := f.pipeline.AddPage(ctx, f.editor, nil, "")
	require.NoError(t, err)
	require.NoError(t, f.pipeline.DeletePage(ctx, f.editor, b.ID))

	d, err := f.pipeline.AddPage(ctx, f.editor, nil, "")
	require.NoError(t, err)
	assert.Greater(t, d.Position, c.Position)

	pages, err := f.store.ListPages(ctx, f.doc.ID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, d.ID, pages[len(pages)-1].ID, "default add appends after the current last page")

	added := f.rooms.named(EventPageAdded)
	require.Len(t, added, 3)
	preview := added[2].Payload["page"].(PageView)
	assert.Equal(t, d.Position, preview.Position, "broadcast position matches the stored one")
}

func TestCreateWithExistingIDIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	existing := f.createText(t, "original")
	before := len(f.rooms.named(EventElementCreated))

	_, err := f.pipeline.CreateElement(ctx, f.editor, f.page.ID, ElementInput{ID: existing.ID, Type: "shape"})
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Len(t, f.rooms.named(EventElementCreated), before, "duplicate id must not broadcast")

	stored, err := f.store.GetElement(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "text", stored.Kind)
	elements, err := f.store.ListElements(ctx, f.page.ID)
	require.NoError(t, err)
	assert.Len(t, elements, 1)
}

func TestUpdateDocumentTitleAdvancesActivity(t *testing.T) {
	f := newFixture(t, 0)
	now := f.doc.UpdatedAt.Add(time.Minute)
	f.pipeline.now = func() time.Time { return now }

	doc, err := f.pipeline.UpdateDocument(context.Background(), f.editor, "  Renamed deck ")
	require.NoError(t, err)
	assert.Equal(t, "Renamed deck", doc.Title)
	assert.True(t, doc.UpdatedAt.Equal(now))

	events := f.rooms.named(EventDocumentUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, "Renamed deck", events[0].Payload["title"])

	_, err = f.pipeline.UpdateDocument(context.Background(), f.editor, "   ")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestElementMutationAdvancesDocumentActivity(t *testing.T) {
	f := newFixture(t, 0)
	later := f.doc.UpdatedAt.Add(time.Hour)
	f.pipeline.now = func() time.Time { return later }

	f.createText(t, "touch")

	doc, err := f.store.GetDocument(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.True(t, doc.UpdatedAt.Equal(later))
}

func TestSavePageReplacesElements(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	old := f.createText(t, "old")

	saved, err := f.pipeline.SavePage(ctx, f.editor, f.page.ID, []ElementInput{
		{ID: "keep-me", Type: "text", Content: map[string]any{"text": "new"}, ZIndex: Num(4)},
		{Type: "shape", ZIndex: Num(2)},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, 2, saved[0].ZIndex, "returned in paint order")

	_, err = f.store.GetElement(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.Len(t, f.rooms.named(EventPageSaved), 1)

	_, err = f.pipeline.SavePage(ctx, f.editor, f.page.ID, []ElementInput{{ID: "x", Type: "text"}, {ID: "x", Type: "text"}})
	assert.Equal(t, KindValidation, KindOf(err))
}

type recordingObserver struct {
	NopObserver
	changed []string
	removed []string
	saved   int
}

func (o *recordingObserver) ElementChanged(_ string, e store.Element) { o.changed = append(o.changed, e.ID) }
func (o *recordingObserver) ElementRemoved(_, id string)              { o.removed = append(o.removed, id) }
func (o *recordingObserver) PageSaved(string, string, string, []store.Element) {
	o.saved++
}

func TestObserversSeePersistedChanges(t *testing.T) {
	f := newFixture(t, 0)
	obs := &recordingObserver{}
	f.pipeline.observers = []Observer{obs}
	ctx := context.Background()

	el := f.createText(t, "observed")
	require.NoError(t, f.pipeline.DeleteElement(ctx, f.owner, el.ID, ""))
	_, err := f.pipeline.SavePage(ctx, f.owner, f.page.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{el.ID}, obs.changed)
	assert.Equal(t, []string{el.ID}, obs.removed)
	assert.Equal(t, 1, obs.saved)
}

func intPtr(v int) *int { return &v }
