package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/policy"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/obs"
)

// Publisher is the part of the bus the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// DispatcherConfig holds the parameters for NewDispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the decisions waiting to be published.  Defaults
	// to 256.
	QueueSize int

	QoS byte

	// MaxRetries is how many times a failed publish is retried.  0 sends
	// once and gives up, matching readers that expect no redelivery.
	MaxRetries int

	// RetryBase and RetryMax shape the exponential backoff between retries.
	RetryBase time.Duration
	RetryMax  time.Duration
}

type dispatchJob struct {
	eventID string
	topic   string
	signal  string
}

// Dispatcher publishes grant/deny signals from a background goroutine so
// event processing never waits on the broker.
type Dispatcher struct {
	pub     Publisher
	cfg     DispatcherConfig
	logger  *slog.Logger
	metrics *obs.Metrics

	mu      sync.Mutex
	queue   chan dispatchJob
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDispatcher creates a dispatcher but does not start it.
func NewDispatcher(pub Publisher, cfg DispatcherConfig, logger *slog.Logger, m *obs.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Dispatcher{
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   make(chan dispatchJob, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start begins the publish loop.  It runs until Stop is called; cancelling
// ctx only aborts retries in progress.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)

	d.logger.Info("dispatcher started",
		"queue_size", d.cfg.QueueSize, "max_retries", d.cfg.MaxRetries)
}

// Dispatch queues the signal for reader's response channel.  It never
// blocks; a full queue drops the signal and returns ErrDispatchQueueFull.
func (d *Dispatcher) Dispatch(reader store.Reader, dec policy.Decision, eventID string) error {
	job := dispatchJob{eventID: eventID, topic: reader.ResponseChannel, signal: dec.Signal()}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- job:
		d.metrics.DispatchBacklog.Set(float64(len(d.queue)))
		return nil
	default:
		d.metrics.Dispatches.WithLabelValues(obs.DispatchDropped).Inc()
		d.logger.Warn("dispatch queue full, dropping signal",
			"event_id", eventID, "topic", job.topic, "signal", job.signal)
		return ErrDispatchQueueFull
	}
}

// Stop refuses new signals, publishes what is already queued and waits for
// the loop to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		close(d.done)
		return
	}
	<-d.done
	d.cancel()
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	for job := range d.queue {
		d.metrics.DispatchBacklog.Set(float64(len(d.queue)))
		d.publish(ctx, job)
	}
}

func (d *Dispatcher) publish(ctx context.Context, job dispatchJob) {
	if job.topic == "" {
		d.metrics.Dispatches.WithLabelValues(obs.DispatchFailed).Inc()
		d.logger.Warn("reader has no response channel", "event_id", job.eventID)
		return
	}

	b := retry.NewExponential(d.cfg.RetryBase)
	b = retry.WithCappedDuration(d.cfg.RetryMax, b)
	b = retry.WithMaxRetries(uint64(d.cfg.MaxRetries), b)

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		if err := d.pub.Publish(ctx, job.topic, d.cfg.QoS, []byte(job.signal)); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.metrics.Dispatches.WithLabelValues(obs.DispatchFailed).Inc()
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		d.logger.Log(ctx, level, "dispatch failed",
			"event_id", job.eventID, "topic", job.topic, "signal", job.signal,
			"attempts", attempts, "err", err)
		return
	}

	d.metrics.Dispatches.WithLabelValues(obs.DispatchSent).Inc()
	d.logger.Debug("dispatched",
		"event_id", job.eventID, "topic", job.topic, "signal", job.signal, "attempts", attempts)
}
