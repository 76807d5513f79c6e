// Package queue provides the bounded work queue between the detector and the
// reason-engine worker pool.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/observ"
)

// Processor handles one detected event. The reason engine implements it.
type Processor interface {
	Process(ctx context.Context, event domain.PriceEvent) error
}

// Queue is a bounded FIFO of detected events drained by a fixed worker pool.
type Queue struct {
	events  chan domain.PriceEvent
	metrics *observ.Metrics
	log     zerolog.Logger

	// afterProcess runs after a successful Process; the notifier hooks in here.
	afterProcess func(ctx context.Context, event domain.PriceEvent)

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New builds a queue with the given capacity.
func New(capacity int, metrics *observ.Metrics, log zerolog.Logger) *Queue {
	return &Queue{
		events:  make(chan domain.PriceEvent, capacity),
		metrics: metrics,
		log:     log.With().Str("component", "queue").Logger(),
	}
}

// OnProcessed registers a callback invoked after each successfully processed
// event. Must be called before Start.
func (q *Queue) OnProcessed(fn func(ctx context.Context, event domain.PriceEvent)) {
	q.afterProcess = fn
}

// Publish enqueues an event without blocking. A full queue returns
// ErrBackpressure; the caller retries.
func (q *Queue) Publish(event domain.PriceEvent) error {
	select {
	case q.events <- event:
		q.metrics.QueueDepth.Set(float64(len(q.events)))
		return nil
	default:
		q.metrics.QueueRejected.Inc()
		return fmt.Errorf("%w: reason queue full", domain.ErrBackpressure)
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; Wait
// blocks until they drain.
func (q *Queue) Start(ctx context.Context, workers int, processor Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i, processor)
	}
}

func (q *Queue) work(ctx context.Context, worker int, processor Processor) {
	defer q.wg.Done()
	log := q.log.With().Int("worker", worker).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-q.events:
			q.metrics.QueueDepth.Set(float64(len(q.events)))
			if err := processor.Process(ctx, event); err != nil {
				log.Error().Err(err).
					Str("event_id", event.ID).
					Str("symbol", event.Symbol).
					Msg("Event processing failed")
				continue
			}
			if q.afterProcess != nil {
				q.afterProcess(ctx, event)
			}
		}
	}
}

// Wait blocks until all workers have stopped.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Depth reports the number of queued events.
func (q *Queue) Depth() int {
	return len(q.events)
}
