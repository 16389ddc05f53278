package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/bus"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/policy"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/ids"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/obs"
)

// Outcome classifies what happened to one inbound message.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeDecodeFailed Outcome = "decode_failed"
	OutcomeUnknown      Outcome = "unknown_credential"
	OutcomeDecided      Outcome = "decided"
	OutcomeFailed       Outcome = "failed"
)

type Result struct {
	EventID  string
	Outcome  Outcome
	Reader   store.Reader
	Chip     credential.ChipID
	User     store.User
	Decision policy.Decision
}

// DecisionSink receives decisions once their audit row is committed.
type DecisionSink interface {
	Dispatch(reader store.Reader, dec policy.Decision, eventID string) error
}

type PipelineConfig struct {
	Encoding credential.Encoding
	// Location is the time zone group windows are written in.  Defaults
	// to time.Local.
	Location *time.Location
	// Timeout bounds the storage work for one event.  0 means no limit.
	Timeout time.Duration
}

// Pipeline handles one card read: reader resolution, decoding, identity
// and policy inside a single transaction, then dispatch after commit.
type Pipeline struct {
	store    store.EventStore
	readers  *ReaderRegistry
	identity *IdentityResolver
	audit    *AuditRecorder
	sink     DecisionSink
	cfg      PipelineConfig
	logger   *slog.Logger
	metrics  *obs.Metrics

	now func() time.Time
}

func NewPipeline(
	st store.EventStore,
	readers *ReaderRegistry,
	sink DecisionSink,
	cfg PipelineConfig,
	logger *slog.Logger,
	m *obs.Metrics,
) *Pipeline {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Encoding == "" {
		cfg.Encoding = credential.EncodingDecimal
	}
	return &Pipeline{
		store:    st,
		readers:  readers,
		identity: NewIdentityResolver(),
		audit:    NewAuditRecorder(),
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock replaces the time source.  Tests only.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Handle processes msg.  The returned error is non-nil only when nothing
// durable was recorded for the event; no signal is dispatched in that case.
func (p *Pipeline) Handle(ctx context.Context, msg bus.Message) (Result, error) {
	at := p.now().In(p.cfg.Location)
	res := Result{EventID: ids.New(at)}
	logger := p.logger.With("event_id", res.EventID, "topic", msg.Topic)

	defer func(start time.Time) {
		p.metrics.EventDuration.Observe(time.Since(start).Seconds())
		p.metrics.Events.WithLabelValues(string(res.Outcome)).Inc()
	}(time.Now())

	err := p.withTimeout(ctx, func(ctx context.Context) error {
		return p.store.InTx(ctx, func(ctx context.Context, tx store.EventTx) error {
			return p.decide(ctx, tx, msg, at, &res)
		})
	})

	if errors.Is(err, ErrPolicyUnavailable) {
		logger.Error("policy read failed, denying", "err", err)
		res.Decision = policy.Deny(policy.ReasonPolicyUnavailable)
		err = p.withTimeout(ctx, func(ctx context.Context) error {
			return p.store.InTx(ctx, func(ctx context.Context, tx store.EventTx) error {
				return p.audit.RecordAccess(ctx, tx, res.User, res.Reader, at, res.Decision)
			})
		})
		if err == nil {
			res.Outcome = OutcomeDecided
		}
	}

	if err != nil {
		res.Outcome = OutcomeFailed
		p.metrics.AuditFailures.Inc()
		logger.Error("event not recorded, no signal sent", "err", err)
		return res, err
	}

	switch res.Outcome {
	case OutcomeIgnored:
		logger.Debug("topic is not a registered reader")

	case OutcomeDecodeFailed:
		p.metrics.DecodeFailures.Inc()
		logger.Warn("undecodable card payload", "reader_id", res.Reader.ID, "payload", string(msg.Payload))

	case OutcomeUnknown:
		p.metrics.UnknownCards.Inc()
		logger.Info("unknown card", "reader_id", res.Reader.ID, "chip", res.Chip.String())

	case OutcomeDecided:
		result := "deny"
		if res.Decision.Granted {
			result = "grant"
		}
		p.metrics.Decisions.WithLabelValues(result, string(res.Decision.Reason)).Inc()
		logger.Info("access decided",
			"reader_id", res.Reader.ID,
			"user_id", res.User.ID,
			"granted", res.Decision.Granted,
			"reason", string(res.Decision.Reason),
			"group_id", res.Decision.GroupID)

		if err := p.sink.Dispatch(res.Reader, res.Decision, res.EventID); err != nil {
			logger.Warn("dispatch not queued", "err", err)
		}
	}

	return res, nil
}

// decide runs inside the event transaction and fills in res.
func (p *Pipeline) decide(ctx context.Context, tx store.EventTx, msg bus.Message, at time.Time, res *Result) error {
	reader, ok, err := p.readers.Lookup(ctx, tx, msg.Topic)
	if err != nil {
		return fmt.Errorf("resolve reader: %w", err)
	}
	if !ok {
		res.Outcome = OutcomeIgnored
		return nil
	}
	res.Reader = reader

	chip, err := credential.Decode(msg.Payload, p.cfg.Encoding)
	if err != nil {
		res.Outcome = OutcomeDecodeFailed
		return p.audit.RecordUnknown(ctx, tx, msg.Payload, "", at)
	}
	res.Chip = chip

	user, ok, err := p.identity.Resolve(ctx, tx, chip)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	if !ok {
		res.Outcome = OutcomeUnknown
		return p.audit.RecordUnknown(ctx, tx, msg.Payload, chip, at)
	}
	res.User = user

	snap, err := tx.LoadPolicy(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPolicyUnavailable, err)
	}

	res.Decision = policy.Evaluate(snap, user.ID, reader.ID, at)
	res.Outcome = OutcomeDecided
	return p.audit.RecordAccess(ctx, tx, user, reader, at, res.Decision)
}

func (p *Pipeline) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.cfg.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	return fn(ctx)
}
