package mutation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidesync/api/internal/store"
)

// Concurrent writers never lock an element. Each update is broadcast before
// it is written and the store applies writes one row at a time, so the value
// that survives is the one applied last.

func TestConcurrentGeometryUpdatesLastAppliedWins(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "contested")

	var mu sync.Mutex
	var applied []float64
	f.store.afterUpdate = func(e store.Element) {
		mu.Lock()
		applied = append(applied, e.X)
		mu.Unlock()
	}

	actors := []Actor{f.owner, f.editor}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.pipeline.UpdateElement(ctx, actors[i%2], UpdateRequest{
				ElementID: el.ID,
				Element:   ElementInput{X: Num(float64(100 + i))},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.store.GetElement(ctx, el.ID)
	require.NoError(t, err)
	require.Len(t, applied, 20)
	assert.Equal(t, applied[len(applied)-1], stored.X)
}

func TestConcurrentStyleKeysAllSurvive(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "styled")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.pipeline.UpdateElement(ctx, f.editor, UpdateRequest{
				ElementID: el.ID,
				Element:   ElementInput{Styles: map[string]any{fmt.Sprintf("k%d", i): float64(i)}},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.store.GetElement(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, "red", stored.Style["color"])
	for i := 0; i < 10; i++ {
		assert.Equal(t, float64(i), stored.Style[fmt.Sprintf("k%d", i)])
	}
}

func TestBroadcastPrecedesPersist(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "ordered")

	var broadcastFirst atomic.Bool
	f.store.afterUpdate = func(store.Element) {
		broadcastFirst.Store(len(f.rooms.named(EventElementUpdated)) == 1)
	}

	_, err := f.pipeline.UpdateElement(ctx, f.owner, UpdateRequest{ElementID: el.ID, Element: ElementInput{X: Num(1)}})
	require.NoError(t, err)
	assert.True(t, broadcastFirst.Load())
}

func TestUpdateAndDeleteRaceLeavesElementDeleted(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	el := f.createText(t, "racing")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.pipeline.UpdateElement(ctx, f.owner, UpdateRequest{ElementID: el.ID, Element: ElementInput{X: Num(9)}})
		if err != nil {
			assert.True(t, IsStale(err), "unexpected error %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, f.pipeline.DeleteElement(ctx, f.editor, el.ID, ""))
	}()
	wg.Wait()

	_, err := f.store.GetElement(ctx, el.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
