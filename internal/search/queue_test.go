package search

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteQueueKeepsOrder(t *testing.T) {
	var q writeQueue
	var mu sync.Mutex
	var got []int

	release := make(chan struct{})
	q.push(func() {
		<-release
		mu.Lock()
		got = append(got, 0)
		mu.Unlock()
	})
	for i := 1; i < 50; i++ {
		i := i
		q.push(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	close(release)
	q.wait()

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got, "a slow first write must not be overtaken")
}

func TestWriteQueueRunsOneAtATime(t *testing.T) {
	var q writeQueue
	var mu sync.Mutex
	active, peak := 0, 0

	for i := 0; i < 20; i++ {
		q.push(func() {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	q.wait()
	assert.Equal(t, 1, peak)

	// a drained queue starts a fresh worker on the next push
	done := false
	q.push(func() { done = true })
	q.wait()
	assert.True(t, done)
}
