package synthesis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/lexiqai/synthesis-gateway/internal/observability"
)

// pool runs jobs on a fixed number of workers, taking them from an
// unbounded FIFO queue. Enqueue never blocks.
type pool struct {
	size int
	run  func(ctx context.Context, j *job)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *linkedlistqueue.Queue
	closed bool

	wg       sync.WaitGroup
	finished chan struct{}

	queued   atomic.Int64
	inFlight atomic.Int64
}

func newPool(size int, run func(ctx context.Context, j *job)) *pool {
	if size < 1 {
		size = 1
	}

	p := &pool{
		size:     size,
		run:      run,
		queue:    linkedlistqueue.New(),
		finished: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	return p
}

func (p *pool) start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// enqueue returns false once the pool is closed.
func (p *pool) enqueue(j *job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	p.queue.Enqueue(j)
	observability.SetQueueDepth(int(p.queued.Add(1)))
	p.cond.Signal()

	return true
}

// next blocks until a job is available and marks it in flight. It returns
// false when the pool is closed and the queue is empty.
func (p *pool) next() (*job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Empty() && !p.closed {
		p.cond.Wait()
	}

	v, ok := p.queue.Dequeue()
	if !ok {
		return nil, false
	}
	observability.SetQueueDepth(int(p.queued.Add(-1)))
	// Counted under mu so an empty queue with nothing running means idle.
	p.inFlight.Add(1)

	return v.(*job), true
}

func (p *pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		j, ok := p.next()
		if !ok {
			return
		}

		p.run(ctx, j)
		p.inFlight.Add(-1)
	}
}

// close stops intake. Workers exit after the queue drains.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	go func() {
		p.wg.Wait()
		close(p.finished)
	}()
}

// wait reports whether all workers exited within timeout. Only valid after close.
func (p *pool) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.finished:
		return true
	case <-timer.C:
		return false
	}
}

// abandon removes every job still waiting in the queue.
func (p *pool) abandon() []*job {
	p.mu.Lock()
	defer p.mu.Unlock()

	var jobs []*job
	for {
		v, ok := p.queue.Dequeue()
		if !ok {
			break
		}
		jobs = append(jobs, v.(*job))
	}
	p.queued.Store(0)
	observability.SetQueueDepth(0)

	return jobs
}

func (p *pool) depth() int {
	return int(p.queued.Load())
}

func (p *pool) running() int {
	return int(p.inFlight.Load())
}
