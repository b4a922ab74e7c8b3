package notify

import "sync"

// topic broadcasts values to every subscriber. Each subscriber owns an
// unbounded queue drained by its own pump goroutine, so a slow consumer
// never blocks the publisher or its peers. Event volume is low (one entry
// per remote operation transition), so unbounded buffering is fine.
//
// Subscribers must keep receiving until their channel closes (close
// closes every channel after the queued values drain). A consumer that
// abandons its channel with values still queued strands that pump
// goroutine on the handoff.
type topic[T any] struct {
	mu     sync.Mutex
	subs   []*subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool
	out    chan T
}

func newTopic[T any]() *topic[T] {
	return &topic[T]{}
}

// subscribe registers a new subscriber and returns its delivery channel.
// init, if non-nil, supplies the subscriber's initial value; it runs under
// the topic lock, where publish is excluded, so the initial value and the
// registration are atomic: a concurrent publish is either reflected in the
// initial value or delivered to the registered subscriber, never dropped
// in between. On a closed topic the returned channel is already closed.
func (t *topic[T]) subscribe(init func() T) <-chan T {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &subscriber[T]{out: make(chan T)}
	sub.cond = sync.NewCond(&sub.mu)

	if t.closed {
		close(sub.out)
		return sub.out
	}

	go sub.pump()
	if init != nil {
		sub.push(init())
	}
	t.subs = append(t.subs, sub)
	return sub.out
}

// publish enqueues v for every subscriber. No-op after close.
func (t *topic[T]) publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	for _, sub := range t.subs {
		sub.push(v)
	}
}

// close stops the topic. Subscribers receive everything already queued,
// then their channels close. Idempotent.
func (t *topic[T]) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for _, sub := range t.subs {
		sub.close()
	}
	t.subs = nil
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, v)
	s.cond.Signal()
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Signal()
}

// pump moves queued values to the delivery channel, then closes it once
// the queue drains after close.
func (s *subscriber[T]) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.out)
			return
		}
		v := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.out <- v
	}
}
