package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// QueueSink decouples audit delivery from the request path: Record
// enqueues and returns immediately, and a background worker drains the
// queue into the wrapped sink. When the queue is full the oldest event
// is dropped and counted — admission latency is never spent waiting on
// the audit backend, and the drop counter makes the loss visible.
//
// QueueSink is safe for concurrent use by multiple goroutines.
type QueueSink struct {
	next    Sink
	queue   chan Event
	logger  *slog.Logger
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

var _ Sink = (*QueueSink)(nil)

// NewQueueSink wraps next with a queue of the given capacity and starts
// the delivery worker. Call [QueueSink.Close] on shutdown to flush.
func NewQueueSink(next Sink, capacity int, logger *slog.Logger) *QueueSink {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &QueueSink{
		next:    next,
		queue:   make(chan Event, capacity),
		logger:  logger,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go s.run()
	return s
}

// Record implements [Sink]. It never blocks: when the queue is full the
// oldest queued event is discarded to make room for the newest, keeping
// the trail biased toward recent activity.
func (s *QueueSink) Record(_ context.Context, event Event) {
	for {
		select {
		case s.queue <- event:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (s *QueueSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting the worker and flushes queued events into the
// wrapped sink. Safe to call multiple times.
func (s *QueueSink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.drained
		if n := s.dropped.Load(); n > 0 {
			s.logger.Warn("audit events dropped under backpressure", "count", n)
		}
	})
}

// run delivers queued events until Close, then drains what remains.
func (s *QueueSink) run() {
	defer close(s.drained)
	for {
		select {
		case event := <-s.queue:
			s.next.Record(context.Background(), event)
		case <-s.done:
			for {
				select {
				case event := <-s.queue:
					s.next.Record(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}
