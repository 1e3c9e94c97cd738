package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// CollectorSink records every event in memory. Safe for concurrent use.
type CollectorSink struct {
	mu     sync.Mutex
	events []Event
}

// NewCollector creates an empty collector sink.
func NewCollector() *CollectorSink {
	return &CollectorSink{}
}

// Emit implements Sink.
func (c *CollectorSink) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a snapshot of the collected events.
func (c *CollectorSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfKind returns the collected events of one kind, in emission order.
func (c *CollectorSink) OfKind(k Kind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// BufferedSink is a bounded fan-out buffer between the engine and a slow
// consumer. Emit never blocks: when the buffer is full the oldest
// non-terminal progress event is dropped. Result and Error events are never
// dropped even if that means exceeding the nominal capacity.
type BufferedSink struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	dropped  int
	notify   chan struct{}
	closed   bool
}

// NewBuffered creates a buffered sink with the given capacity.
func NewBuffered(capacity int) *BufferedSink {
	if capacity < 1 {
		capacity = 256
	}
	return &BufferedSink{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Emit implements Sink with the drop-oldest-progress overflow policy.
func (b *BufferedSink) Emit(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) >= b.capacity {
		dropped := false
		for i, old := range b.buf {
			if old.Kind == Progress {
				b.buf = append(b.buf[:i], b.buf[i+1:]...)
				b.dropped++
				dropped = true
				break
			}
		}
		// Nothing droppable and the incoming event is itself droppable
		// progress: discard it rather than grow past capacity.
		if !dropped && e.Kind == Progress {
			b.dropped++
			b.mu.Unlock()
			return
		}
	}
	b.buf = append(b.buf, e)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next pops the oldest buffered event, blocking until one is available or
// the sink is closed. The second return is false once the sink is closed
// and drained.
func (b *BufferedSink) Next() (Event, bool) {
	for {
		b.mu.Lock()
		if len(b.buf) > 0 {
			e := b.buf[0]
			b.buf = b.buf[1:]
			b.mu.Unlock()
			return e, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return Event{}, false
		}
		<-b.notify
	}
}

// Drain returns every buffered event without blocking.
func (b *BufferedSink) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = nil
	return out
}

// Dropped returns the number of events discarded by the overflow policy.
func (b *BufferedSink) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close marks the sink closed and wakes any blocked Next caller.
func (b *BufferedSink) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// LoggerSink writes events to a zerolog logger. Progress events log at
// debug level, errors at error level, everything else at info.
type LoggerSink struct {
	log zerolog.Logger
}

// NewLoggerSink creates a sink that logs events.
func NewLoggerSink(log zerolog.Logger) *LoggerSink {
	return &LoggerSink{log: log.With().Str("component", "event_sink").Logger()}
}

// Emit implements Sink.
func (s *LoggerSink) Emit(e Event) {
	switch e.Kind {
	case Progress:
		d := e.Data.(*ProgressData)
		s.log.Debug().
			Str("run_id", e.RunID).
			Str("module", d.Module).
			Float64("fraction", d.Fraction).
			Msg("progress")
	case Error:
		d := e.Data.(*ErrorData)
		s.log.Error().
			Str("run_id", e.RunID).
			Str("module", d.Module).
			Str("error", d.Error).
			Msg("simulation error")
	case ModuleCompleted:
		d := e.Data.(*ModuleCompletedData)
		s.log.Info().
			Str("run_id", e.RunID).
			Str("module", d.Module).
			Float64("seconds", d.ExecutionTimeSeconds).
			Msg("module completed")
	default:
		s.log.Info().
			Str("run_id", e.RunID).
			Str("kind", string(e.Kind)).
			Msg("event")
	}
}

// MultiSink duplicates events to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
