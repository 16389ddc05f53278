package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/bus"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/obs"
)

type State int

const (
	StateDisconnected State = iota
	StateConnectedIdle
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateConnectedIdle:
		return "connected_idle"
	case StateProcessing:
		return "processing"
	default:
		return "disconnected"
	}
}

var allStates = []State{StateDisconnected, StateConnectedIdle, StateProcessing}

var errSubscriptionClosed = errors.New("subscription closed")

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg bus.Message) (Result, error)
}

type IngestConfig struct {
	// Filter is the subscription filter.  Defaults to "#".
	Filter string
	QoS    byte

	// Workers > 1 spreads events over that many serial workers, keyed by
	// topic so each reader's events stay in order.
	Workers int

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// IngestLoop owns the bus session: it connects, subscribes, feeds messages
// to the handler and reconnects when the broker goes away.
type IngestLoop struct {
	client  bus.Client
	handler Handler
	cfg     IngestConfig
	logger  *slog.Logger
	metrics *obs.Metrics

	mu        sync.Mutex
	state     State
	connected bool
	inflight  int
	watchers  []func(State)
}

func NewIngestLoop(client bus.Client, h Handler, cfg IngestConfig, logger *slog.Logger, m *obs.Metrics) *IngestLoop {
	if cfg.Filter == "" {
		cfg.Filter = "#"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}

	l := &IngestLoop{client: client, handler: h, cfg: cfg, logger: logger, metrics: m}
	l.publishState(StateDisconnected)
	return l
}

func (l *IngestLoop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnStateChange registers fn to be called with every new state.  fn runs
// with the loop's state lock held and must not call back into the loop.
func (l *IngestLoop) OnStateChange(fn func(State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
	fn(l.state)
}

// Run blocks until ctx is cancelled.  Messages already received when ctx is
// cancelled are finished before Run returns.  The bus session is left open
// so queued decisions can still be published; the caller disconnects.
func (l *IngestLoop) Run(ctx context.Context) error {
	l.logger.Info("ingest loop starting", "filter", l.cfg.Filter, "workers", l.cfg.Workers)

	first := true
	for {
		lost, msgs, err := l.connect(ctx, first)
		if err != nil {
			l.logger.Info("ingest loop stopped")
			return nil
		}
		first = false

		l.setConnected(true)
		err = l.consume(ctx, lost, msgs)
		l.setConnected(false)

		if ctx.Err() != nil {
			l.logger.Info("ingest loop stopped")
			return nil
		}
		l.logger.Warn("broker connection lost", "err", err)
	}
}

// connect retries forever with capped exponential backoff.  It only fails
// when ctx is done.
func (l *IngestLoop) connect(ctx context.Context, first bool) (<-chan error, <-chan bus.Message, error) {
	b := retry.NewExponential(l.cfg.ReconnectBase)
	b = retry.WithCappedDuration(l.cfg.ReconnectMax, b)

	var (
		lost <-chan error
		msgs <-chan bus.Message
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if !first {
			l.metrics.Reconnects.Inc()
		}
		first = false

		var err error
		lost, err = l.client.Connect(ctx)
		if err != nil {
			l.logger.Warn("broker connect failed", "err", err)
			return retry.RetryableError(err)
		}
		msgs, err = l.client.Subscribe(ctx, l.cfg.Filter, l.cfg.QoS)
		if err != nil {
			l.logger.Warn("subscribe failed", "filter", l.cfg.Filter, "err", err)
			l.client.Disconnect()
			return retry.RetryableError(err)
		}
		return nil
	})
	return lost, msgs, err
}

func (l *IngestLoop) consume(ctx context.Context, lost <-chan error, msgs <-chan bus.Message) error {
	// In-flight events finish even when ctx is cancelled mid-transaction.
	work := context.WithoutCancel(ctx)

	if l.cfg.Workers == 1 {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-lost:
				return err
			case msg, ok := <-msgs:
				if !ok {
					return errSubscriptionClosed
				}
				// Shutdown takes no new events, even already delivered ones.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.process(work, msg)
			}
		}
	}

	shards := make([]chan bus.Message, l.cfg.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan bus.Message, 16)
		wg.Add(1)
		go func(in <-chan bus.Message) {
			defer wg.Done()
			for msg := range in {
				l.process(work, msg)
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-lost:
			return err
		case msg, ok := <-msgs:
			if !ok {
				return errSubscriptionClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			shards[shardOf(msg.Topic, len(shards))] <- msg
		}
	}
}

func (l *IngestLoop) process(ctx context.Context, msg bus.Message) {
	l.track(1)
	defer l.track(-1)

	// Pipeline logs its own failures.
	_, _ = l.handler.Handle(ctx, msg)
}

func shardOf(topic string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int(h.Sum32() % uint32(n))
}

func (l *IngestLoop) setConnected(c bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = c
	l.refreshLocked()
}

func (l *IngestLoop) track(delta int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight += delta
	l.refreshLocked()
}

func (l *IngestLoop) refreshLocked() {
	next := StateDisconnected
	switch {
	case l.connected && l.inflight > 0:
		next = StateProcessing
	case l.connected:
		next = StateConnectedIdle
	}
	if next == l.state {
		return
	}
	l.state = next
	l.publishState(next)
	for _, fn := range l.watchers {
		fn(next)
	}
}

func (l *IngestLoop) publishState(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		l.metrics.LoopState.WithLabelValues(st.String()).Set(v)
	}
}
