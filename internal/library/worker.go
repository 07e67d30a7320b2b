package library

import (
	"context"
	"log/slog"
	"sync"
)

type job struct {
	name string
	run  func(ctx context.Context) error
}

// worker runs disk requests one at a time off the publishing goroutine.
// The queue is unbounded so project event handlers never block on it.
type worker struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	queue  []job
	closed bool
	wake   chan struct{}
}

func newWorker(ctx context.Context, logger *slog.Logger) *worker {
	cctx, cancel := context.WithCancel(ctx)
	w := &worker{
		ctx:    cctx,
		cancel: cancel,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// submit queues fn. It never blocks; jobs submitted after shutdown are
// dropped.
func (w *worker) submit(name string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, job{name: name, run: fn})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wake:
		}
		for {
			j, ok := w.next()
			if !ok {
				break
			}
			w.runJob(j)
			if w.ctx.Err() != nil {
				return
			}
		}
	}
}

func (w *worker) next() (job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return job{}, false
	}
	j := w.queue[0]
	w.queue = w.queue[1:]
	return j, true
}

func (w *worker) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("library: task panicked", slog.String("task", j.name), slog.Any("panic", r))
		}
	}()
	if err := j.run(w.ctx); err != nil {
		w.logger.Warn("library: task failed", slog.String("task", j.name), slog.String("error", err.Error()))
	}
}

// shutdown stops the worker and waits for the running job to return.
// Queued jobs are discarded.
func (w *worker) shutdown() {
	w.mu.Lock()
	w.closed = true
	w.queue = nil
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}
