package agent

import (
	"context"
	"sync"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// Sink receives typed execution events. Every emitted event is
// delivered; bounded sinks apply back-pressure to the loop when the
// consumer lags.
type Sink interface {
	Emit(event *models.StreamEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(*models.StreamEvent) {}

// ChannelSink forwards events to a bounded channel. When the buffer is
// full, Emit blocks until the consumer drains an event or the sink is
// closed, so no event is ever lost on a live stream.
type ChannelSink struct {
	ch      chan *models.StreamEvent
	done    chan struct{}
	once    sync.Once
	senders sync.WaitGroup
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{
		ch:   make(chan *models.StreamEvent, buffer),
		done: make(chan struct{}),
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan *models.StreamEvent { return s.ch }

// Close releases any blocked senders and closes the event channel once
// they have returned. Safe to call more than once.
func (s *ChannelSink) Close() {
	s.once.Do(func() {
		close(s.done)
		s.senders.Wait()
		close(s.ch)
	})
}

func (s *ChannelSink) Emit(event *models.StreamEvent) {
	s.senders.Add(1)
	defer s.senders.Done()
	select {
	case <-s.done:
	default:
		select {
		case s.ch <- event:
		case <-s.done:
		}
	}
}

// CollectorSink accumulates events in memory, for tests and CLI output.
// Safe for concurrent emitters; read Events only after the run settles.
type CollectorSink struct {
	mu     sync.Mutex
	Events []*models.StreamEvent
}

func (c *CollectorSink) Emit(event *models.StreamEvent) {
	c.mu.Lock()
	c.Events = append(c.Events, event)
	c.mu.Unlock()
}

// emitter stamps session id, step, and timestamp onto outgoing events.
type emitter struct {
	sink      Sink
	sessionID string
}

func (e *emitter) emit(ctx context.Context, step int, event *models.StreamEvent) {
	if e.sink == nil {
		return
	}
	event.SessionID = e.sessionID
	event.StepID = step
	event.Timestamp = time.Now()
	e.sink.Emit(event)
}
