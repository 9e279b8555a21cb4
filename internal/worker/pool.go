package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned when no queue slot is free.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrClosed is returned when submitting to a pool that is shutting down.
	ErrClosed = errors.New("worker pool is closed")
	// ErrDuplicateTask is returned when a task id is already queued or running.
	ErrDuplicateTask = errors.New("task already submitted")
)

// Func is a unit of work. It must return promptly once ctx is canceled.
type Func func(ctx context.Context) error

// Task is a handle on submitted work.
type Task struct {
	id     string
	fn     Func
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID returns the task identifier.
func (t *Task) ID() string {
	return t.id
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
// Tasks run on contexts derived from the pool, not from the submitter.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	queue  chan *Task
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
}

// NewPool starts size workers with room for queueSize waiting tasks.
func NewPool(size, queueSize int, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		group:  new(errgroup.Group),
		queue:  make(chan *Task, queueSize),
		logger: logger,
		tasks:  make(map[string]*Task),
	}

	for i := 0; i < size; i++ {
		p.group.Go(p.work)
	}

	return p
}

// Submit enqueues fn under id without blocking.
func (p *Pool) Submit(id string, fn Func) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if _, exists := p.tasks[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	t := &Task{
		id:     id,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	select {
	case p.queue <- t:
	default:
		cancel()
		return nil, ErrQueueFull
	}

	p.tasks[id] = t
	return t, nil
}

// Task returns the queued or running task with the given id.
func (p *Pool) Task(id string) (*Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	return t, ok
}

// Cancel cancels the context of a queued or running task. It reports whether
// the task was found.
func (p *Pool) Cancel(id string) bool {
	t, ok := p.Task(id)
	if ok {
		t.cancel()
	}
	return ok
}

// Shutdown stops accepting tasks and waits for queued work to drain. When ctx
// expires first, running tasks are canceled and awaited.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work() error {
	for t := range p.queue {
		p.run(t)
	}
	return nil
}

func (p *Pool) run(t *Task) {
	defer p.finish(t)
	t.err = p.call(t)
}

func (p *Pool) call(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.id, r)
		}
	}()
	return t.fn(t.ctx)
}

func (p *Pool) finish(t *Task) {
	if t.err != nil {
		p.logger.Error("task failed",
			slog.String("task_id", t.id),
			slog.String("error", t.err.Error()),
		)
	}

	p.mu.Lock()
	delete(p.tasks, t.id)
	p.mu.Unlock()

	t.cancel()
	close(t.done)
}
