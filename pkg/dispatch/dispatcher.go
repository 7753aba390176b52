package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrClosed    = errors.New("dispatcher closed")
	ErrDuplicate = errors.New("task already active")
)

// DefaultConcurrency is used when Options.Concurrency is not positive.
const DefaultConcurrency = 4

// Task is a unit of detached work.
type Task func(ctx context.Context) error

// Options configures a Dispatcher.
type Options struct {
	Concurrency int
	// WarnAfter logs a warning when a task waits longer than this in the queue.
	WarnAfter time.Duration
	Metrics   *metrics.Metrics
}

// EventType names a dispatcher event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
)

// Event reports task activity to registered handlers. Waited is set on
// EventStarted, Duration and Err on EventCompleted.
type Event struct {
	Type     EventType
	ID       string
	Waited   time.Duration
	Duration time.Duration
	Err      error
}

// EventHandler receives dispatcher events synchronously.
type EventHandler func(Event)

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Concurrency int `json:"concurrency"`
}

type record struct {
	handle *Handle
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
}

// Dispatcher runs tasks detached from their callers, bounded by a concurrency limit.
type Dispatcher struct {
	warnAfter   time.Duration
	metrics     *metrics.Metrics
	concurrency int

	mu      sync.Mutex
	queue   []*record
	running int
	active  map[string]*record
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	handlers map[EventType][]EventHandler
	hmu      sync.RWMutex
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		warnAfter:   opts.WarnAfter,
		metrics:     opts.Metrics,
		concurrency: opts.Concurrency,
		active:      make(map[string]*record),
		ctx:         ctx,
		cancel:      cancel,
		handlers:    make(map[EventType][]EventHandler),
	}
}

// Submit queues task under id and returns immediately. Tracing values of ctx
// carry over to the task, cancellation does not.
func (d *Dispatcher) Submit(ctx context.Context, id string, task Task) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := tracing.StartSpan(ctx, tracing.TracerOrchestrator, "dispatch.submit",
		attribute.String("task_id", id),
	)
	defer span.End()

	taskCtx, cancel := context.WithCancel(tracing.Detach(ctx))
	rec := &record{
		handle: newHandle(id),
		task:   task,
		ctx:    taskCtx,
		cancel: cancel,
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		span.SetStatus(codes.Error, ErrClosed.Error())
		return nil, ErrClosed
	}
	if _, ok := d.active[id]; ok {
		d.mu.Unlock()
		cancel()
		span.SetStatus(codes.Error, ErrDuplicate.Error())
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	d.active[id] = rec
	d.queue = append(d.queue, rec)
	queued := len(d.queue)
	d.mu.Unlock()

	d.metrics.QueueDepth(queued)
	log.Debug().Str("task_id", id).Int("queued", queued).Msg("Task queued")

	if d.warnAfter > 0 {
		go d.warnIfWaiting(rec)
	}
	d.process()
	return rec.handle, nil
}

func (d *Dispatcher) process() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.running < d.concurrency && len(d.queue) > 0 {
		rec := d.queue[0]
		d.queue = d.queue[1:]
		d.running++
		rec.handle.markStarted()

		d.wg.Add(1)
		go d.execute(rec)
	}
	d.metrics.QueueDepth(len(d.queue))
}

func (d *Dispatcher) execute(rec *record) {
	defer d.wg.Done()

	id := rec.handle.ID
	ctx, span := tracing.StartSpan(rec.ctx, tracing.TracerOrchestrator, "dispatch.execute",
		attribute.String("task_id", id),
	)
	defer span.End()

	stop := context.AfterFunc(d.ctx, rec.cancel)
	defer func() {
		stop()
		rec.cancel()
	}()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("task_id", id).Logger()
	waited := rec.handle.StartedAt().Sub(rec.handle.EnqueuedAt)
	logger.Debug().Dur("waited", waited).Msg("Task started")
	d.emit(Event{Type: EventStarted, ID: id, Waited: waited})

	start := time.Now()
	err := d.run(ctx, rec.task)
	duration := time.Since(start)

	d.mu.Lock()
	d.running--
	delete(d.active, id)
	d.mu.Unlock()

	rec.handle.settle(err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", duration).Msg("Task failed")
	} else {
		logger.Debug().Dur("duration", duration).Msg("Task completed")
	}
	d.emit(Event{Type: EventCompleted, ID: id, Duration: duration, Err: err})

	d.process()
}

func (d *Dispatcher) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (d *Dispatcher) warnIfWaiting(rec *record) {
	timer := time.NewTimer(d.warnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		if rec.handle.State() == StateQueued {
			log.Warn().
				Str("task_id", rec.handle.ID).
				Dur("waited", time.Since(rec.handle.EnqueuedAt)).
				Msg("Task waiting longer than expected")
		}
	case <-rec.handle.Done():
	case <-d.ctx.Done():
	}
}

// Stats returns queue and concurrency figures.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Queued: len(d.queue), Running: d.running, Concurrency: d.concurrency}
}

// Wait blocks until no task is queued or running, or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		idle := len(d.active) == 0
		d.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close rejects new tasks, cancels queued and running ones, and waits for
// running tasks to return until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := d.queue
	d.queue = nil
	for _, rec := range pending {
		delete(d.active, rec.handle.ID)
	}
	d.mu.Unlock()

	for _, rec := range pending {
		rec.cancel()
		rec.handle.settle(ErrClosed)
	}
	d.metrics.QueueDepth(0)
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Int("dropped", len(pending)).Msg("Dispatcher closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

// On registers a handler for an event type. Handlers run on the task
// goroutine and must not block.
func (d *Dispatcher) On(t EventType, h EventHandler) {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

func (d *Dispatcher) emit(ev Event) {
	d.hmu.RLock()
	handlers := d.handlers[ev.Type]
	d.hmu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
