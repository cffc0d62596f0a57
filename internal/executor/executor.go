// Package executor owns the background task table: long-running AI and
// clone tasks detached from the HTTP request that triggered them, with
// at-most-one semantics per key and cooperative cancellation.
package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task keys. A stage task is keyed by the bare story id; chat and clone
// tasks get a prefix so they can run alongside a stage task.
func StageKey(storyID string) string { return storyID }

func ChatKey(storyID string) string { return "chat_" + storyID }

func CloneKey(projectID string) string { return "clone_" + projectID }

// Launch delays: the triggering request commits its transaction after
// scheduling, so the task waits before reading state.
const (
	StageDelay = 300 * time.Millisecond
	ChatDelay  = 200 * time.Millisecond
)

// handle tracks one running task.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Executor runs background tasks on goroutines and tracks them by key.
type Executor struct {
	log  *zap.Logger
	base context.Context

	mu    sync.Mutex
	tasks map[string]*handle
}

// New creates an executor. Tasks inherit from base; cancelling base stops
// everything (process shutdown).
func New(base context.Context, log *zap.Logger) *Executor {
	return &Executor{
		log:   log,
		base:  base,
		tasks: map[string]*handle{},
	}
}

// Launch registers a task under key and runs fn on a fresh goroutine after
// the delay. A second launch while the key is registered is a silent no-op
// (returns false): triggers are idempotent.
//
// fn must observe ctx at every suspension point; panics are caught at the
// task boundary and never crash the process.
func (e *Executor) Launch(key string, delay time.Duration, fn func(ctx context.Context)) bool {
	ctx, cancel := context.WithCancel(e.base)
	h := &handle{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	if _, exists := e.tasks[key]; exists {
		e.mu.Unlock()
		cancel()
		return false
	}
	e.tasks[key] = h
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		defer e.deregister(key)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("background task panicked",
					zap.String("key", key), zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		defer cancel()

		// Let the scheduling transaction commit before reading state.
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		fn(ctx)
	}()
	return true
}

func (e *Executor) deregister(key string) {
	e.mu.Lock()
	delete(e.tasks, key)
	e.mu.Unlock()
}

// Stop signals cancellation to the task under key. Returns false when no
// task is registered.
func (e *Executor) Stop(key string) bool {
	e.mu.Lock()
	h, ok := e.tasks[key]
	e.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Running reports whether a task is registered under key.
func (e *Executor) Running(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[key]
	return ok
}

// StopAll cancels every task and waits for them to unwind, bounded by the
// context. Used on shutdown.
func (e *Executor) StopAll(ctx context.Context) {
	e.mu.Lock()
	handles := make([]*handle, 0, len(e.tasks))
	for _, h := range e.tasks {
		h.cancel()
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return
		}
	}
}
