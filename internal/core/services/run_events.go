package services

import (
	"encoding/json"
	"sync"

	"github.com/manthysbr/techscout/internal/core/domain"
)

// RunObserver consumes the events of exactly one run, in emission order.
// OnEvent is called synchronously from the loop.
type RunObserver interface {
	OnEvent(ev domain.RunEvent)
}

// ObserverFunc adapts a function to RunObserver.
type ObserverFunc func(ev domain.RunEvent)

func (f ObserverFunc) OnEvent(ev domain.RunEvent) { f(ev) }

// MultiObserver forwards each event to every observer in order.
type MultiObserver []RunObserver

func (m MultiObserver) OnEvent(ev domain.RunEvent) {
	for _, o := range m {
		if o != nil {
			o.OnEvent(ev)
		}
	}
}

// eventEmitter stamps sequence numbers and hands events to the observer.
type eventEmitter struct {
	seq int
	obs RunObserver
}

func (e *eventEmitter) emit(events ...domain.RunEvent) {
	for _, ev := range events {
		e.seq++
		ev.Seq = e.seq
		if e.obs != nil {
			e.obs.OnEvent(ev)
		}
	}
}

// EventStream buffers the events of one run into a channel for a single consumer.
// The loop never blocks on a slow consumer: events queue in memory until read.
type EventStream struct {
	mu     sync.Mutex
	queue  []domain.RunEvent
	notify chan struct{}
	out    chan domain.RunEvent
	closed bool
	done   chan struct{}
}

// NewEventStream starts the forwarding goroutine.
func NewEventStream() *EventStream {
	s := &EventStream{
		notify: make(chan struct{}, 1),
		out:    make(chan domain.RunEvent),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// OnEvent enqueues an event.
func (s *EventStream) OnEvent(ev domain.RunEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// Events returns the ordered channel. It is closed after Close once the queue drains.
func (s *EventStream) Events() <-chan domain.RunEvent {
	return s.out
}

// Close marks the end of the run.
func (s *EventStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Abandon stops delivery when the consumer goes away.
func (s *EventStream) Abandon() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *EventStream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *EventStream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}

// BusObserver republishes run events on the EventBus under the run ID,
// so several SSE clients can follow the same run.
type BusObserver struct {
	bus *EventBus
}

// NewBusObserver creates an observer publishing to bus.
func NewBusObserver(bus *EventBus) *BusObserver {
	return &BusObserver{bus: bus}
}

func (o *BusObserver) OnEvent(ev domain.RunEvent) {
	if o == nil || o.bus == nil {
		return
	}
	payload, _ := json.Marshal(ev)
	o.bus.Publish(Event{
		Key:       string(ev.RunID),
		Type:      EventType(ev.Kind),
		Data:      string(payload),
		Timestamp: ev.At.UnixMilli(),
	})
}
