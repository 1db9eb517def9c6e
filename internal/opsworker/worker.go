// Package opsworker provides the background worker primitives that drive
// graphplane-opsd's periodic jobs: shared-master discovery and replica-ALB
// health cache refresh, and instance-capacity reporting.
package opsworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robosystems/graphplane/internal/logging"
)

// Worker runs a function on a fixed interval until stopped or its context
// is cancelled.
type Worker struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	log      *logging.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	mu       sync.Mutex
}

// Config describes a worker's name, period, and unit of work.
type Config struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
	Log      *logging.Logger
}

// New creates a Worker from Config.
func New(cfg Config) *Worker {
	return &Worker{
		name:     cfg.Name,
		interval: cfg.Interval,
		fn:       cfg.Fn,
		log:      cfg.Log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker's loop in a goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker %s already running", w.name)
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop signals the worker to stop and blocks until its loop exits.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// IsRunning reports whether the worker's loop is currently active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.fn(ctx); err != nil && w.log != nil {
				w.log.WithError(err).WithFields(map[string]interface{}{"worker": w.name}).Warn("worker tick failed")
			}
		}
	}
}

// Group manages the lifecycle of a set of Workers together.
type Group struct {
	workers []*Worker
	mu      sync.Mutex
}

// NewGroup creates an empty worker Group.
func NewGroup() *Group {
	return &Group{workers: make([]*Worker, 0)}
}

// Add registers a pre-built Worker with the group.
func (g *Group) Add(w *Worker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workers = append(g.workers, w)
}

// AddFunc builds and registers a Worker from a name, interval, and function.
func (g *Group) AddFunc(name string, interval time.Duration, log *logging.Logger, fn func(ctx context.Context) error) *Worker {
	w := New(Config{Name: name, Interval: interval, Fn: fn, Log: log})
	g.Add(w)
	return w
}

// Start starts every worker in the group, rolling back any already-started
// workers if one fails to start.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.workers {
		if err := w.Start(ctx); err != nil {
			for _, started := range g.workers {
				if started.IsRunning() {
					started.Stop()
				}
			}
			return fmt.Errorf("start worker %s: %w", w.name, err)
		}
	}
	return nil
}

// Stop stops every worker in the group concurrently and waits for all to
// finish.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range g.workers {
		wg.Add(1)
		go func(worker *Worker) {
			defer wg.Done()
			worker.Stop()
		}(w)
	}
	wg.Wait()
}
