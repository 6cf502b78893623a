package audit

import (
	"context"
	"sync"
	"time"

	"fusebox/pkg/log"
)

// Worker consumes audit events from a channel and persists them,
// keeping store latency out of the filesystem serve path. Publish
// blocks once the buffer fills rather than dropping events.
type Worker struct {
	store Store
	inbox chan Event
	done  chan struct{}
	once  sync.Once
}

const defaultBuffer = 256

func NewWorker(store Store, buffer int) *Worker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Worker{
		store: store,
		inbox: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
}

// Publish hands an event to the worker, stamping the time when unset.
// After Close the event is discarded.
func (w *Worker) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-w.done:
		return
	default:
	}

	select {
	case <-w.done:
	case w.inbox <- event:
	}
}

// Run processes events until the context is canceled or Close is
// called. On Close the buffered backlog is written out before Run
// returns; cancellation discards it. Store failures are logged and
// processing continues.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			w.drain(ctx)
			return nil
		case event := <-w.inbox:
			w.append(ctx, event)
		}
	}
}

// Close stops intake. Pending events are still written by Run.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.done) })
}

func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case event := <-w.inbox:
			w.append(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) append(ctx context.Context, event Event) {
	if err := w.store.Append(ctx, event); err != nil {
		log.ErrorMsg("Recording access event: %s\n", err)
	}
}
