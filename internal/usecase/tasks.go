package usecase

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrShuttingDown is the cancellation cause of tasks stopped by Shutdown.
	ErrShuttingDown = errors.New("usecase: shutting down")
	// ErrSuperseded is the cancellation cause of tasks stopped by Cancel or
	// replaced by a later Start for the same key.
	ErrSuperseded = errors.New("usecase: task superseded")
)

type task struct {
	cancel context.CancelCauseFunc
}

// Registry runs at most one background task per conversation. Starting a
// task for a key cancels the one already running for it.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*task
	wg     sync.WaitGroup
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

// Start runs fn on its own goroutine. fn's context keeps the values of ctx
// but not its deadline or cancellation. It is canceled by Cancel or a later
// Start for the same key (cause ErrSuperseded) and by Shutdown (cause
// ErrShuttingDown). Start reports false after Shutdown.
func (r *Registry) Start(ctx context.Context, key string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if prev, ok := r.tasks[key]; ok {
		prev.cancel(ErrSuperseded)
	}

	taskCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	t := &task{cancel: cancel}
	r.tasks[key] = t
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer cancel(nil)
		defer r.remove(key, t)
		fn(taskCtx)
	}()
	return true
}

func (r *Registry) remove(key string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[key] == t {
		delete(r.tasks, key)
	}
}

// Cancel stops the task running for key, if any.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return false
	}
	t.cancel(ErrSuperseded)
	delete(r.tasks, key)
	return true
}

// Running reports whether a task is registered for key.
func (r *Registry) Running(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// Wait blocks until every started task has returned or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new tasks, cancels the running ones and waits for them.
// Tasks see ErrShuttingDown as their context's cause and may use what is
// left of ctx's deadline to wind down.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for key, t := range r.tasks {
		t.cancel(ErrShuttingDown)
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	return r.Wait(ctx)
}
