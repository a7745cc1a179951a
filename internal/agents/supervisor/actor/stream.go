package actor

import (
	"go-supervisor/pkg/models"
	"sync"
)

// Stream delivers the events of one run to one consumer in publish order.
// Publish never blocks, so the run actor is not held up by a slow reader. The
// event channel closes right after the final event.
type Stream struct {
	mu    sync.Mutex
	queue []models.Event
	final bool

	wake     chan struct{}
	out      chan models.Event
	done     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

func NewStream() *Stream {
	s := &Stream{
		wake: make(chan struct{}, 1),
		out:  make(chan models.Event),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Publish queues an event. Everything after the final event is dropped.
func (s *Stream) Publish(e models.Event) {
	s.mu.Lock()
	if s.final {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	if e.Final() {
		s.final = true
		close(s.done)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) Events() <-chan models.Event {
	return s.out
}

// Done is closed once the final event was published.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Discard detaches the consumer. Queued and future events are dropped.
func (s *Stream) Discard() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Stream) pump() {
	defer close(s.out)
	for {
		e, ok := s.next()
		if !ok {
			return
		}
		select {
		case s.out <- e:
		case <-s.quit:
			return
		}
	}
}

func (s *Stream) next() (models.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, true
		}
		final := s.final
		s.mu.Unlock()
		if final {
			return models.Event{}, false
		}

		select {
		case <-s.wake:
		case <-s.quit:
			return models.Event{}, false
		}
	}
}
