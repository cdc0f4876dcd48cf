package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultSize Pool configuration
const DefaultSize = 3

var ErrPoolClosed = errors.New("offload pool is closed")

type task struct {
	ctx  context.Context
	run  func()
	skip func(error)
}

// Pool runs blocking calls on a fixed set of workers. Submissions beyond the
// worker count wait in a FIFO queue; nothing is dropped or rejected while the
// pool is open.
type Pool struct {
	size int
	wg   sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	closed  bool
	metrics Metrics
}

type Metrics struct {
	Size      int   `json:"pool_size"`
	Active    int   `json:"tasks_active"`
	Peak      int   `json:"tasks_peak"`
	Queued    int   `json:"tasks_queued"`
	Submitted int64 `json:"total_submitted"`
	Completed int64 `json:"total_completed"`
	Skipped   int64 `json:"total_skipped"`
}

func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}

	p := &Pool{size: size}
	p.cond = sync.NewCond(&p.mu)
	p.metrics.Size = size

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) Size() int {
	return p.size
}

// Do submits fn and waits for its result. If ctx is done before a worker
// picks the task up, fn never runs and ctx.Err() is returned. Once fn has
// started it runs to completion and its result is returned regardless of ctx.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	t := &task{
		ctx: ctx,
		run: func() {
			defer func() {
				if r := recover(); r != nil {
					var zero T
					done <- result{zero, fmt.Errorf("offloaded task panicked: %v", r)}
				}
			}()
			v, err := fn()
			done <- result{v, err}
		},
		skip: func(err error) {
			var zero T
			done <- result{zero, err}
		},
	}

	if err := p.submit(t); err != nil {
		var zero T
		return zero, err
	}

	r := <-done
	return r.val, r.err
}

// Run is Do for calls that only return an error.
func Run(ctx context.Context, p *Pool, fn func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (p *Pool) submit(t *task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.queue = append(p.queue, t)
	p.metrics.Submitted++
	p.cond.Signal()
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}

		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]

		if err := t.ctx.Err(); err != nil {
			p.metrics.Skipped++
			p.mu.Unlock()
			t.skip(err)
			continue
		}

		p.metrics.Active++
		if p.metrics.Active > p.metrics.Peak {
			p.metrics.Peak = p.metrics.Active
		}
		p.mu.Unlock()

		t.run()

		p.mu.Lock()
		p.metrics.Active--
		p.metrics.Completed++
		p.mu.Unlock()
	}
}

// Close stops accepting work, lets the workers drain the queue and waits for
// them to exit.
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

func (p *Pool) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	m.Queued = len(p.queue)
	return m
}
