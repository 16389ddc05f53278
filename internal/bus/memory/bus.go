// Package memory is an in-process bus.Client for tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/bus"
)

var ErrBrokerDown = errors.New("memory bus: broker unavailable")

type subscription struct {
	filter string
	ch     chan bus.Message
}

// Bus records publishes and lets tests inject inbound messages, fail
// connects and drop the session.
type Bus struct {
	// Echo delivers published messages to matching subscriptions, the way
	// a broker does for a client subscribed to "#".
	Echo bool

	mu           sync.Mutex
	cond         *sync.Cond
	connectFails int
	connects     int
	publishErr   error
	lost         chan error
	done         chan struct{}
	subs         []subscription
	published    []bus.Message
}

var _ bus.Client = (*Bus)(nil)

func New() *Bus {
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// FailConnects makes the next n Connect calls fail.
func (b *Bus) FailConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectFails = n
}

// FailPublishes makes Publish return err; nil restores it.
func (b *Bus) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Connects is the number of Connect calls, successful or not.
func (b *Bus) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *Bus) Connect(ctx context.Context) (<-chan error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	b.cond.Broadcast()
	if b.connectFails > 0 {
		b.connectFails--
		return nil, ErrBrokerDown
	}

	b.lost = make(chan error, 1)
	b.done = make(chan struct{})
	b.subs = nil
	return b.lost, nil
}

func (b *Bus) Subscribe(_ context.Context, filter string, _ byte) (<-chan bus.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		return nil, bus.ErrNotConnected
	}

	ch := make(chan bus.Message, 64)
	b.subs = append(b.subs, subscription{filter: filter, ch: ch})
	b.cond.Broadcast()
	return ch, nil
}

func (b *Bus) Publish(_ context.Context, topic string, _ byte, payload []byte) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	msg := bus.Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	b.published = append(b.published, msg)
	b.cond.Broadcast()
	echo := b.Echo
	b.mu.Unlock()

	if echo {
		b.deliver(msg)
	}
	return nil
}

func (b *Bus) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endLocked()
	b.lost = nil
}

// Drop simulates the broker connection going away.
func (b *Bus) Drop(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lost != nil {
		b.lost <- err
		b.lost = nil
	}
	b.endLocked()
}

func (b *Bus) endLocked() {
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
	b.subs = nil
	b.cond.Broadcast()
}

// Inject delivers a message from a reader.  It returns false when no
// subscription matched.
func (b *Bus) Inject(topic string, payload []byte) bool {
	return b.deliver(bus.Message{Topic: topic, Payload: payload})
}

func (b *Bus) deliver(msg bus.Message) bool {
	b.mu.Lock()
	done := b.done
	var targets []chan bus.Message
	for _, s := range b.subs {
		if bus.Match(s.filter, msg.Topic) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
		case <-done:
			return false
		}
	}
	return len(targets) > 0
}

// Published returns a copy of everything published so far.
func (b *Bus) Published() []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.Message(nil), b.published...)
}

// WaitPublished blocks until at least n messages were published or timeout
// passes, and returns what was published.
func (b *Bus) WaitPublished(n int, timeout time.Duration) []bus.Message {
	b.waitFor(timeout, func() bool { return len(b.published) >= n })
	return b.Published()
}

// WaitSubscribed blocks until a subscription exists or timeout passes.
func (b *Bus) WaitSubscribed(timeout time.Duration) bool {
	return b.waitFor(timeout, func() bool { return len(b.subs) > 0 })
}

// WaitConnects blocks until Connect was called at least n times.
func (b *Bus) WaitConnects(n int, timeout time.Duration) bool {
	return b.waitFor(timeout, func() bool { return b.connects >= n })
}

func (b *Bus) waitFor(timeout time.Duration, cond func() bool) bool {
	timer := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)
	b.mu.Lock()
	defer b.mu.Unlock()
	for !cond() {
		if !time.Now().Before(deadline) {
			return false
		}
		b.cond.Wait()
	}
	return true
}
