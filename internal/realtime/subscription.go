package realtime

import (
	"sync"
	"sync/atomic"

	jww "github.com/spf13/jwalterweatherman"
)

const defaultInbox = 64

// Subscription owns one topic attachment and a delivery goroutine, so a
// slow callback never blocks the publisher. Start and Stop may be called
// from any goroutine; after Stop returns no new callback is started.
//
// When the inbox is full new events are dropped and the overflow handler,
// if one is set, runs on the delivery goroutine so the subscriber can
// re-read what it missed from the store.
type Subscription struct {
	broker     Broker
	topic      string
	handler    Handler
	onOverflow func()

	inbox    chan []byte
	overflow chan struct{}
	done     chan struct{}
	stopped  atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	cancel    func()
}

func NewSubscription(b Broker, topic string, h Handler) *Subscription {
	return &Subscription{
		broker:  b,
		topic:   topic,
		handler: h,
		inbox:    make(chan []byte, defaultInbox),
		overflow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// OnOverflow sets the handler run after events were dropped. It must be
// called before Start.
func (s *Subscription) OnOverflow(fn func()) *Subscription {
	s.onOverflow = fn
	return s
}

func (s *Subscription) Topic() string { return s.topic }

// Start attaches to the broker. Calling Start after Stop is a no-op.
func (s *Subscription) Start() {
	s.startOnce.Do(func() {
		if s.stopped.Load() {
			return
		}
		cancel := s.broker.Subscribe(s.topic, s.enqueue)

		s.mu.Lock()
		if s.stopped.Load() {
			s.mu.Unlock()
			cancel()
			return
		}
		s.cancel = cancel
		s.mu.Unlock()

		go s.loop()
	})
}

func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.done)

		s.mu.Lock()
		cancel := s.cancel
		s.cancel = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

func (s *Subscription) Stopped() bool { return s.stopped.Load() }

func (s *Subscription) enqueue(payload []byte) {
	if s.stopped.Load() {
		return
	}
	select {
	case s.inbox <- payload:
	default:
		jww.WARN.Printf("[realtime] inbox full, dropping event topic=%s", s.topic)
		select {
		case s.overflow <- struct{}{}:
		default:
		}
	}
}

func (s *Subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case p := <-s.inbox:
			if s.stopped.Load() {
				return
			}
			s.handler(p)
		case <-s.overflow:
			if s.stopped.Load() {
				return
			}
			if s.onOverflow != nil {
				s.onOverflow()
			}
		}
	}
}
