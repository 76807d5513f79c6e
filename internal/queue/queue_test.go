package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/observ"
)

type countingProcessor struct {
	mu        sync.Mutex
	processed []string
	fail      map[string]bool
	done      chan struct{}
}

func (p *countingProcessor) Process(_ context.Context, event domain.PriceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[event.ID] {
		if p.done != nil {
			p.done <- struct{}{}
		}
		return errors.New("processing failed")
	}
	p.processed = append(p.processed, event.ID)
	if p.done != nil {
		p.done <- struct{}{}
	}
	return nil
}

func TestPublishReturnsBackpressureWhenFull(t *testing.T) {
	q := New(2, observ.NewForTest(), zerolog.Nop())

	require.NoError(t, q.Publish(domain.PriceEvent{ID: "a"}))
	require.NoError(t, q.Publish(domain.PriceEvent{ID: "b"}))

	err := q.Publish(domain.PriceEvent{ID: "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackpressure)
	assert.Equal(t, 2, q.Depth())
}

func TestWorkersDrainQueue(t *testing.T) {
	q := New(8, observ.NewForTest(), zerolog.Nop())
	processor := &countingProcessor{done: make(chan struct{}, 8)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 2, processor)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(domain.PriceEvent{ID: id}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-processor.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for workers")
		}
	}

	processor.mu.Lock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, processor.processed)
	processor.mu.Unlock()
}

func TestAfterProcessHookRunsOnSuccessOnly(t *testing.T) {
	q := New(8, observ.NewForTest(), zerolog.Nop())
	processor := &countingProcessor{
		fail: map[string]bool{"bad": true},
		done: make(chan struct{}, 8),
	}

	var mu sync.Mutex
	var notified []string
	q.OnProcessed(func(_ context.Context, event domain.PriceEvent) {
		mu.Lock()
		notified = append(notified, event.ID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 1, processor)

	require.NoError(t, q.Publish(domain.PriceEvent{ID: "bad"}))
	require.NoError(t, q.Publish(domain.PriceEvent{ID: "good"}))
	for i := 0; i < 2; i++ {
		select {
		case <-processor.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for workers")
		}
	}

	// The hook for "good" runs after its done signal; poll briefly.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		got := append([]string(nil), notified...)
		mu.Unlock()
		if len(got) == 1 {
			assert.Equal(t, []string{"good"}, got)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one notified event, got %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkersStopOnCancel(t *testing.T) {
	q := New(2, observ.NewForTest(), zerolog.Nop())
	processor := &countingProcessor{}

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx, 2, processor)
	cancel()

	stopped := make(chan struct{})
	go func() {
		q.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop on cancel")
	}
}
