package search

import "sync"

// writeQueue runs index writes one at a time in the order they were pushed.
// A worker goroutine exists only while writes are pending.
type writeQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	wg      sync.WaitGroup
}

func (q *writeQueue) push(fn func()) {
	q.wg.Add(1)
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *writeQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
		q.wg.Done()
	}
}

// wait blocks until every pushed write has run.
func (q *writeQueue) wait() {
	q.wg.Wait()
}
