package transform

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull is the cause recorded when a task cannot be queued.
	ErrQueueFull = errors.New("transformation queue is full")
	// ErrFilterDisabled is returned by TransformByName for a disabled filter.
	ErrFilterDisabled = errors.New("filter is disabled")
	// ErrFilterRequired is returned when a request names no filter and no
	// assigner is configured.
	ErrFilterRequired = errors.New("a filter is required")
)

// pool runs tasks on a fixed set of workers fed by a bounded queue.
type pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newPool(workers, queueSize int) *pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &pool{tasks: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// submit queues task without blocking. It reports false when the queue is
// full or the pool is closed.
func (p *pool) submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// depth returns the number of queued tasks.
func (p *pool) depth() int {
	return len(p.tasks)
}

// close stops accepting tasks and waits for queued ones to finish.
func (p *pool) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
