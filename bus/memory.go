package bus

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus implements MessageBus in process. Subject patterns follow the
// NATS wildcard rules so code written against NATSBus behaves the same.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	rr     map[string]int // subject pattern + queue -> next member
	closed atomic.Bool

	replySeq uint64
}

type memorySub struct {
	pattern string
	queue   string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config: cfg,
		rr:     make(map[string]int),
	}
}

// Publish sends a message to every matching subscriber and to one member
// of each matching queue group. Full subscriber buffers drop the message.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	return b.publish(&Message{Subject: subject, Data: data})
}

func (b *MemoryBus) publish(msg *Message) error {
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	groups := make(map[string][]*memorySub)
	var order []string
	for _, sub := range b.subs {
		if sub.closed.Load() || !SubjectMatches(sub.pattern, msg.Subject) {
			continue
		}
		if sub.queue == "" {
			offer(sub, msg)
			continue
		}
		key := sub.pattern + " " + sub.queue
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], sub)
	}

	for _, key := range order {
		members := groups[key]
		start := b.rr[key] % len(members)
		for i := 0; i < len(members); i++ {
			if offer(members[(start+i)%len(members)], msg) {
				b.rr[key] = start + i + 1
				break
			}
		}
	}
	return nil
}

func offer(sub *memorySub, msg *Message) bool {
	select {
	case sub.ch <- msg:
		return true
	default:
		return false
	}
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	return b.subscribe(subject, "")
}

// QueueSubscribe creates a queue subscription. Members of the same queue
// on the same pattern receive messages round-robin.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.subscribe(subject, queue)
}

func (b *MemoryBus) subscribe(pattern, queue string) (*memorySub, error) {
	if err := ValidateSubject(pattern); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: pattern,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Request publishes data with a private reply subject and waits for the
// first reply.
func (b *MemoryBus) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	inbox := b.NewInbox()
	replySub, err := b.subscribe(inbox, "")
	if err != nil {
		return nil, err
	}
	defer replySub.Unsubscribe()

	if err := b.publish(&Message{Subject: subject, Data: data, Reply: inbox}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-replySub.ch:
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// NewInbox returns a unique reply subject.
func (b *MemoryBus) NewInbox() string {
	seq := atomic.AddUint64(&b.replySeq, 1)
	return "_INBOX." + strconv.FormatUint(seq, 10)
}

// Close shuts down the bus and closes every subscription channel.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !sub.closed.Swap(true) {
			close(sub.ch)
		}
	}
	b.subs = nil
	return nil
}

func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	close(s.ch)
	return nil
}
