package runtime

import (
	"context"
	"sync"
	"sync/atomic"
)

// workerPool bounds how many exchanges a consumer processes at once.
type workerPool struct {
	id     string
	source string
	size   int

	sem chan struct{}
	wg  sync.WaitGroup

	active    atomic.Int64
	queued    atomic.Int64
	tasks     atomic.Int64
	completed atomic.Int64
	largest   atomic.Int64
}

func newWorkerPool(id, source string, size int) *workerPool {
	if size < 1 {
		size = 1
	}
	return &workerPool{id: id, source: source, size: size, sem: make(chan struct{}, size)}
}

// submit runs fn on a pool goroutine, waiting for a free worker until ctx
// is done.
func (p *workerPool) submit(ctx context.Context, fn func()) error {
	p.queued.Add(1)
	select {
	case p.sem <- struct{}{}:
		p.queued.Add(-1)
	case <-ctx.Done():
		p.queued.Add(-1)
		return ctx.Err()
	}
	p.tasks.Add(1)
	p.raiseLargest(p.active.Add(1))
	p.wg.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			p.completed.Add(1)
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

func (p *workerPool) raiseLargest(n int64) {
	for {
		cur := p.largest.Load()
		if n <= cur || p.largest.CompareAndSwap(cur, n) {
			return
		}
	}
}

// wait blocks until every submitted task returned or ctx is done.
func (p *workerPool) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
