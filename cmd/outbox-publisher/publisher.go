package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/config"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/metrics"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize = 50
	fallbackPollMs    = 500
	publishTimeout    = 15 * time.Second
	fallbackAttempts  = 10
	backoffCeiling    = 10 * time.Second
	jitterSpan        = 250 * time.Millisecond
)

var jitterRand = rand.New(rand.NewSource(time.Now().UnixNano()))

type txDB interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type messageBus interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) pubResult
}

type pubResult interface {
	Get(context.Context) (string, error)
}

type publisherFor func(topic string) topicPublisher

type PublisherParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               txDB
	PubSub           messageBus
	Repository       eventStore
	Registry         eventResolver
	PublisherFactory publisherFor
	DLQRepository    dlqStore
	Metrics          *metrics.OutboxMetrics
}

func (p PublisherParams) validate() error {
	var err error
	if p.Config == nil {
		err = multierr.Append(err, errors.New("config is required"))
	}
	if p.Logger == nil {
		err = multierr.Append(err, errors.New("logger is required"))
	}
	if p.DB == nil {
		err = multierr.Append(err, errors.New("database client is required"))
	}
	if p.PubSub == nil {
		err = multierr.Append(err, errors.New("pubsub client is required"))
	}
	if p.Repository == nil {
		err = multierr.Append(err, errors.New("outbox repository is required"))
	}
	if p.Registry == nil {
		err = multierr.Append(err, errors.New("event registry is required"))
	}
	if p.DLQRepository == nil {
		err = multierr.Append(err, errors.New("dlq repository is required"))
	}
	return err
}

// Publisher drains outbox_events into Pub/Sub. A whole batch shares one
// transaction, so a crash mid-batch re-delivers rows rather than losing
// them; consumers dedupe on the envelope event id.
type Publisher struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           txDB
	store        eventStore
	bus          messageBus
	resolver     eventResolver
	dlq          dlqStore
	metrics      *metrics.OutboxMetrics
	publisherFor publisherFor
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewPublisher(params PublisherParams) (*Publisher, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) topicPublisher {
			pub := params.PubSub.Publisher(topic)
			if pub == nil {
				return nil
			}
			return wrapGCPPublisher(pub)
		}
	}

	p := &Publisher{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		store:        params.Repository,
		bus:          params.PubSub,
		resolver:     params.Registry,
		dlq:          params.DLQRepository,
		metrics:      params.Metrics,
		publisherFor: factory,
		batchSize:    params.Config.Outbox.BatchSize,
		maxAttempts:  params.Config.Outbox.MaxAttempts,
		pollInterval: time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if p.batchSize <= 0 {
		p.batchSize = fallbackBatchSize
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = fallbackAttempts
	}
	if p.pollInterval <= 0 {
		p.pollInterval = fallbackPollMs * time.Millisecond
	}
	return p, nil
}

func (p *Publisher) checkDependencies(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		p.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := p.bus.Ping(ctx); err != nil {
		p.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

// Run polls until the context is canceled. Transient batch errors back
// off exponentially up to backoffCeiling; a drained batch polls again
// immediately in case more rows are waiting.
func (p *Publisher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.checkDependencies(ctx); err != nil {
		return err
	}

	backoff := p.pollInterval
	for {
		select {
		case <-ctx.Done():
			p.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		drained, err := p.drainOnce(ctx)
		switch {
		case err != nil:
			p.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = growBackoff(backoff, p.pollInterval)
			if err := p.pause(ctx, jittered(backoff)); err != nil {
				return err
			}
		case drained:
			backoff = p.pollInterval
		default:
			backoff = p.pollInterval
			if err := p.pause(ctx, jittered(p.pollInterval)); err != nil {
				return err
			}
		}
	}
}

// drainOnce processes one batch inside a single transaction. It reports
// whether any rows were seen so Run knows to keep draining.
func (p *Publisher) drainOnce(ctx context.Context) (bool, error) {
	sawRows := false
	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := p.store.FetchUnpublishedForPublish(tx, p.batchSize, p.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		sawRows = true
		for _, event := range events {
			if err := p.handleEvent(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return sawRows, err
}

// handleEvent publishes a single row and records the outcome. Only
// bookkeeping failures (mark/DLQ writes) abort the batch; publish
// failures are absorbed into retry or dead-letter state.
func (p *Publisher) handleEvent(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := p.resolver.Resolve(event)
	if err != nil {
		return p.deadLetter(ctx, tx, event, enums.DLQReasonNonRetryable, err, "", nil)
	}

	fields := p.logFields(event, resolved.Envelope, resolved.Descriptor.Topic)
	started := time.Now()
	err = p.publishEvent(ctx, event, resolved)
	if err == nil {
		if markErr := p.store.MarkPublishedTx(tx, event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		if p.metrics != nil {
			p.metrics.IncPublished(string(event.EventType))
			p.metrics.ObserveDuration(string(event.EventType), time.Since(started))
		}
		p.logg.Info(p.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return p.deadLetter(ctx, tx, event, enums.DLQReasonNonRetryable, err, resolved.Descriptor.Topic, fields)
	}

	nextAttempt := event.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	if nextAttempt >= p.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		terminalErr := fmt.Errorf("max publish attempts reached: %w", err)
		return p.deadLetter(ctx, tx, event, enums.DLQReasonMaxAttempts, terminalErr, resolved.Descriptor.Topic, fields)
	}

	logCtx := p.logg.WithFields(ctx, fields)
	logCtx = p.logg.WithField(logCtx, "error", err.Error())
	p.logg.Warn(logCtx, "outbox publish failed")
	if p.metrics != nil {
		p.metrics.IncFailed(string(event.EventType))
	}
	if markErr := p.store.MarkFailedTx(tx, event.ID, err); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
	}
	return nil
}

// deadLetter copies the row into outbox_dlq and pins the original so it
// drops out of future fetches. Both writes ride the batch transaction.
func (p *Publisher) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, topic string, fields map[string]any) error {
	if fields == nil {
		fields = p.logFields(event, outbox.PayloadEnvelope{}, topic)
	}
	fields["error_reason"] = reason
	logCtx := p.logg.WithFields(ctx, fields)
	logCtx = p.logg.WithField(logCtx, "error", cause.Error())
	p.logg.Warn(logCtx, "outbox event will not be retried")
	if p.metrics != nil {
		p.metrics.IncDeadLettered(string(event.EventType))
	}

	msg := cause.Error()
	entry := models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := p.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := p.store.MarkTerminalTx(tx, event.ID, cause, p.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (p *Publisher) publishEvent(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := p.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(pubCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(pubCtx)
	return err
}

func (p *Publisher) logFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"batch_size":     p.batchSize,
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

func (p *Publisher) pause(ctx context.Context, d time.Duration) error {
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

func growBackoff(current, base time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < backoffCeiling {
		return next
	}
	return backoffCeiling
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterRand.Int63n(int64(jitterSpan)))
}

func wrapGCPPublisher(p *gcppubsub.Publisher) topicPublisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{inner: p}
}

type gcpPublisher struct {
	inner *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) pubResult {
	if p == nil || p.inner == nil {
		return nil
	}
	return &gcpResult{inner: p.inner.Publish(ctx, msg)}
}

type gcpResult struct {
	inner *gcppubsub.PublishResult
}

func (r *gcpResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.inner == nil {
		return "", errors.New("publish result is nil")
	}
	return r.inner.Get(ctx)
}
