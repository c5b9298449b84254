package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox"
	"github.com/angelmondragon/vcledger/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

const (
	outcomePublished  = "published"
	outcomeRetry      = "retry"
	outcomeDeadLetter = "dead_letter"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type publishMetrics interface {
	IncPublish(eventType, outcome string)
	ObserveLag(eventType string, lag time.Duration)
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          publishMetrics
}

type Service struct {
	cfg              *config.Config
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	metrics          publishMetrics
	publisherFactory publisherFactory
	publishers       map[string]publisher
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	var missing error
	need := func(ok bool, name string) {
		if !ok {
			missing = multierr.Append(missing, fmt.Errorf("%s is required", name))
		}
	}
	need(params.Config != nil, "config")
	need(params.Logger != nil, "logger")
	need(params.DB != nil, "database client")
	need(params.PubSub != nil, "pubsub client")
	need(params.Repository != nil, "outbox repository")
	need(params.Registry != nil, "event registry")
	need(params.DLQRepository != nil, "dlq repository")
	if missing != nil {
		return nil, missing
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			publisher := params.PubSub.Publisher(topic)
			if publisher == nil {
				return nil
			}
			return newGCPPubPublisher(publisher)
		}
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := params.Config.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		cfg:              params.Config,
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		metrics:          params.Metrics,
		publisherFactory: factory,
		publishers:       map[string]publisher{},
		batchSize:        batch,
		maxAttempts:      maxAttempts,
		pollInterval:     time.Duration(pollMs) * time.Millisecond,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run polls until ctx is canceled. Failed batches back off exponentially
// with jitter; a successful batch resets the backoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	idle := retry.WithJitter(jitterWindow, retry.NewConstant(s.pollInterval))
	failing := s.failureBackoff()

	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait, _ = failing.Next()
		case processed:
			failing = s.failureBackoff()
			continue
		default:
			failing = s.failureBackoff()
			wait, _ = idle.Next()
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) failureBackoff() retry.Backoff {
	return retry.WithJitter(jitterWindow, retry.WithCappedDuration(maxBackoff, retry.NewExponential(s.pollInterval)))
}

// disposition is what happened to one row in a batch.
type disposition struct {
	outcome string
	reason  enums.OutboxDLQErrorReason
	err     error
}

// inflight is a row whose publish has been issued but not yet confirmed.
type inflight struct {
	event  models.OutboxEvent
	topic  string
	fields map[string]any
	result publishResult
	failed *disposition
}

// processBatch relays one locked batch. Every publish is issued before any
// is awaited so the client can batch them. Row bookkeeping shares the batch
// transaction, so a crash before commit leaves every row pending.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
		pending := make([]inflight, 0, len(events))
		for _, event := range events {
			pending = append(pending, s.issue(publishCtx, event))
		}
		for _, p := range pending {
			if err := s.settle(ctx, tx, p, s.await(publishCtx, p)); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// issue resolves the row and starts its publish.
func (s *Service) issue(ctx context.Context, event models.OutboxEvent) inflight {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return inflight{
			event:  event,
			fields: s.eventFields(event, outbox.PayloadEnvelope{}, ""),
			failed: &disposition{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonUnroutable, err: err},
		}
	}
	p := inflight{
		event:  event,
		topic:  resolved.Descriptor.Topic,
		fields: s.eventFields(event, resolved.Envelope, resolved.Descriptor.Topic),
	}
	pub := s.publisherFor(p.topic)
	if pub == nil {
		p.failed = &disposition{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: fmt.Errorf("publisher not configured for topic %s", p.topic)}
		return p
	}
	if p.result = pub.Publish(ctx, buildMessage(event, resolved.Envelope)); p.result == nil {
		p.failed = &disposition{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: fmt.Errorf("publisher returned nil for topic %s", p.topic)}
	}
	return p
}

// await waits for the publish and classifies the result.
func (s *Service) await(ctx context.Context, p inflight) disposition {
	if p.failed != nil {
		return *p.failed
	}
	_, err := p.result.Get(ctx)
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		return disposition{outcome: outcomePublished}
	case errors.As(err, &nonRetry):
		return disposition{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}
	attempt := p.event.AttemptCount + 1
	p.fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		return disposition{
			outcome: outcomeDeadLetter,
			reason:  enums.OutboxDLQReasonMaxAttempts,
			err:     fmt.Errorf("gave up after %d attempts: %w", attempt, err),
		}
	}
	return disposition{outcome: outcomeRetry, err: err}
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, p inflight, d disposition) error {
	event := p.event
	logCtx := s.logg.WithFields(ctx, p.fields)

	switch d.outcome {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		if s.metrics != nil {
			s.metrics.ObserveLag(string(event.EventType), time.Since(event.CreatedAt))
		}
		s.logg.Info(logCtx, "outbox event published")

	case outcomeRetry:
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}

	case outcomeDeadLetter:
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{"error": d.err.Error(), "error_reason": d.reason}), "outbox event will not be retried")
		if err := s.deadLetter(tx, event, d, p.topic); err != nil {
			return err
		}
	}
	s.record(event.EventType, d.outcome)
	return nil
}

// deadLetter parks the row in the DLQ and burns its attempt budget so the
// fetch query skips it until an operator requeues it.
func (s *Service) deadLetter(tx *gorm.DB, event models.OutboxEvent, d disposition, topic string) error {
	msg := d.err.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   d.reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s (topic %q): %w", event.ID, topic, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, d.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) record(eventType enums.OutboxEventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncPublish(string(eventType), outcome)
}

// publisherFor memoizes one publisher per topic for the life of the process.
func (s *Service) publisherFor(topic string) publisher {
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.publisherFactory(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

func buildMessage(event models.OutboxEvent, envelope outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if actor := envelope.Actor; actor != nil && actor.TenantID != uuid.Nil {
		attrs["tenant_id"] = actor.TenantID.String()
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"batch_size":     s.batchSize,
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newGCPPubPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
