package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

// Sink receives one subscriber's deliveries in order. Deliver blocking
// too long only hurts this subscriber's queue, never the pipeline.
type Sink interface {
	Deliver(ctx context.Context, payload any) error
	Close() error
}

const (
	DefaultQueueCap     = 64
	DefaultBlockTimeout = 2 * time.Second
)

// Bus fans pipeline output to per-subscriber bounded queues. Slow
// subscribers shed load per their overflow policy; a Block subscriber
// that stalls publishing past the block timeout is evicted so one
// integration cannot wedge the session.
type Bus struct {
	mu           sync.Mutex
	logger       *Logger.Logger
	blockTimeout time.Duration
	subscribers  map[string]*subscriber
	closed       bool
}

type subscriber struct {
	sub     types.Subscription
	sink    Sink
	queue   chan any
	dropped atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

func NewBus(blockTimeout time.Duration, logger *Logger.Logger) *Bus {
	if blockTimeout <= 0 {
		blockTimeout = DefaultBlockTimeout
	}
	return &Bus{
		logger:       logger,
		blockTimeout: blockTimeout,
		subscribers:  make(map[string]*subscriber),
	}
}

// Subscribe attaches sink under sub and starts its delivery pump.
// An existing subscriber with the same id is replaced.
func (b *Bus) Subscribe(sub types.Subscription, sink Sink) {
	if sub.QueueCap <= 0 {
		sub.QueueCap = DefaultQueueCap
	}
	s := &subscriber{
		sub:   sub,
		sink:  sink,
		queue: make(chan any, sub.QueueCap),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sink.Close()
		return
	}
	if old, ok := b.subscribers[sub.SubscriberID]; ok {
		old.stop()
	}
	b.subscribers[sub.SubscriberID] = s
	b.mu.Unlock()

	go s.pump(b.logger)
	b.logger.Infof("fanout: subscriber %s attached to %s (cap=%d policy=%s)",
		sub.SubscriberID, sub.Channel, sub.QueueCap, sub.Policy)
}

// Unsubscribe detaches and closes one subscriber.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	s, ok := b.subscribers[subscriberID]
	if ok {
		delete(b.subscribers, subscriberID)
	}
	b.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Publish offers payload to every subscriber of channel. Only Block
// subscribers can delay the caller, and only up to the block timeout.
func (b *Bus) Publish(channel types.Channel, payload any) {
	b.mu.Lock()
	var targets []*subscriber
	for _, s := range b.subscribers {
		if s.sub.Channel == channel {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		b.offer(s, payload)
	}
}

func (b *Bus) offer(s *subscriber, payload any) {
	switch s.sub.Policy {
	case types.Block:
		select {
		case s.queue <- payload:
		case <-s.done:
		case <-time.After(b.blockTimeout):
			b.logger.Warnf("fanout: subscriber %s blocked publishing for %v, evicting",
				s.sub.SubscriberID, b.blockTimeout)
			b.Unsubscribe(s.sub.SubscriberID)
		}
	case types.DropNewest:
		select {
		case s.queue <- payload:
		default:
			s.dropped.Add(1)
		}
	default: // DropOldest
		for {
			select {
			case s.queue <- payload:
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
}

// Dropped reports shed payloads for one subscriber.
func (b *Bus) Dropped(subscriberID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscribers[subscriberID]; ok {
		return s.dropped.Load()
	}
	return 0
}

// Close evicts all subscribers and waits for their pumps to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subscribers))
	for id, s := range b.subscribers {
		subs = append(subs, s)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) pump(logger *Logger.Logger) {
	defer s.sink.Close()
	for {
		select {
		case <-s.done:
			// flush what is already queued, then leave
			for {
				select {
				case payload := <-s.queue:
					if err := s.sink.Deliver(context.Background(), payload); err != nil {
						logger.Warnf("fanout: subscriber %s flush delivery failed: %v", s.sub.SubscriberID, err)
						return
					}
				default:
					return
				}
			}
		case payload := <-s.queue:
			if err := s.sink.Deliver(context.Background(), payload); err != nil {
				logger.Warnf("fanout: subscriber %s delivery failed: %v", s.sub.SubscriberID, err)
			}
		}
	}
}
