package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"driftguard/internal/refstore"
)

// tickTimeout bounds a single tick so a stuck database cannot wedge the
// worker forever.
const tickTimeout = 2 * time.Minute

// Worker drives the engine on a fixed interval. The first tick runs
// immediately on Start. A reference integrity failure stops the worker and
// surfaces on Fatal; every other tick error is logged and the schedule
// continues.
type Worker struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
	fatal    chan error

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewWorker returns a stopped Worker.
func NewWorker(engine *Engine, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		engine:   engine,
		interval: interval,
		logger:   logger,
		fatal:    make(chan error, 1),
	}
}

// Fatal receives the error that permanently stopped the worker.
func (w *Worker) Fatal() <-chan error { return w.fatal }

// Start launches the tick loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.stop != nil {
		w.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	w.stop = stop
	w.done = done
	w.mu.Unlock()

	w.logger.Info("monitoring worker started",
		zap.Duration("interval", w.interval))
	go w.run(stop, done)
}

// Stop terminates the loop and waits for any in-flight tick to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	stop := w.stop
	done := w.done
	w.stop = nil
	w.done = nil
	w.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(tickTimeout):
			w.logger.Warn("monitoring worker did not stop in time")
		}
	}
}

func (w *Worker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if w.tick() {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.tick() {
				return
			}
		}
	}
}

// tick runs one cycle and reports whether the worker must stop.
func (w *Worker) tick() bool {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if _, err := w.engine.RunTick(ctx); err != nil {
		if errors.Is(err, refstore.ErrIntegrity) {
			select {
			case w.fatal <- err:
			default:
			}
			return true
		}
		w.logger.Error("monitoring tick failed", zap.Error(err))
	}
	return false
}
