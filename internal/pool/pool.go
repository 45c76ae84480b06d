// Package pool runs tasks on a fixed set of worker goroutines.
// Tasks that find every worker busy wait in a bounded FIFO backlog.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/oesand/wsline/specs"
)

// Task is a unit of work.
type Task func()

// PanicHandler receives values recovered from panicking tasks.
type PanicHandler func(recovered any)

// Pool manages MaxWorkers goroutines fed from a shared backlog.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog *queue.Queue
	closed  bool
	wg      sync.WaitGroup

	maxPending int
	onPanic    PanicHandler

	active    int64
	completed int64
}

// New starts workers goroutines. maxPending caps the backlog, zero means unbounded.
func New(workers, maxPending int, onPanic PanicHandler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		backlog:    queue.New(),
		maxPending: maxPending,
		onPanic:    onPanic,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// Submit enqueues task. It fails with specs.ErrBacklogFull when the backlog
// is at capacity and with specs.ErrClosed after Close.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return specs.ErrClosed
	}
	if p.maxPending > 0 && p.backlog.Length() >= p.maxPending {
		return specs.ErrBacklogFull
	}
	p.backlog.Add(task)
	p.cond.Signal()
	return nil
}

// Pending returns the number of tasks waiting for a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backlog.Length()
}

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int {
	return int(atomic.LoadInt64(&p.active))
}

// Completed returns the number of finished tasks.
func (p *Pool) Completed() int64 {
	return atomic.LoadInt64(&p.completed)
}

// Close stops accepting tasks, lets workers drain the backlog and waits for them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.backlog.Length() == 0 {
		if p.closed {
			return nil, false
		}
		p.cond.Wait()
	}
	return p.backlog.Remove().(Task), true
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	atomic.AddInt64(&p.active, 1)
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
		atomic.AddInt64(&p.active, -1)
		atomic.AddInt64(&p.completed, 1)
	}()
	task()
}
