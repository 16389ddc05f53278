// Package mqtt implements bus.Client on an MQTT 3.1.1 broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/bus"
)

type Config struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// Buffer is the per-subscription delivery queue.  When it is full the
	// client stops reading from the broker until the consumer catches up.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "gatekeeper-" + uuid.NewString()[:8]
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

type Client struct {
	cfg    Config
	logger *slog.Logger
	pc     paho.Client

	mu   sync.Mutex
	lost chan error
	done chan struct{}
}

var _ bus.Client = (*Client)(nil)

func New(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	c := &Client{cfg: cfg, logger: logger}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.endSession(err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.pc = paho.NewClient(opts)
	return c
}

func (c *Client) Connect(ctx context.Context) (<-chan error, error) {
	if err := wait(ctx, c.pc.Connect(), c.cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.cfg.Broker, err)
	}

	lost := make(chan error, 1)
	c.mu.Lock()
	c.lost = lost
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info("mqtt connected", "broker", c.cfg.Broker, "client_id", c.cfg.ClientID)
	return lost, nil
}

func (c *Client) Subscribe(ctx context.Context, filter string, qos byte) (<-chan bus.Message, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil, bus.ErrNotConnected
	}

	out := make(chan bus.Message, c.cfg.Buffer)
	handler := func(_ paho.Client, m paho.Message) {
		msg := bus.Message{Topic: m.Topic(), Payload: append([]byte(nil), m.Payload()...)}
		select {
		case out <- msg:
		case <-done:
		}
	}

	if err := wait(ctx, c.pc.Subscribe(filter, qos, handler), c.cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", filter, err)
	}
	return out, nil
}

func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !c.pc.IsConnectionOpen() {
		return bus.ErrNotConnected
	}
	if err := wait(ctx, c.pc.Publish(topic, qos, false, payload), c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("publish %q: %w", topic, err)
	}
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	c.lost = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	if c.pc.IsConnected() {
		c.pc.Disconnect(250)
	}
}

func (c *Client) endSession(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.lost != nil {
		c.lost <- err
		c.lost = nil
	}
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return bus.ErrTimeout
	}
}
