package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/registry"
)

const (
	publishTimeout = 15 * time.Second
	maxIdleBackoff = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type rowStore interface {
	Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, err error) error
	Retire(tx *gorm.DB, id uuid.UUID, err error, ceiling int) error
}

type deadLetters interface {
	Insert(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

// sender publishes one message and blocks until the broker acknowledges it.
type sender interface {
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type RelayParams struct {
	Config   config.OutboxConfig
	Logger   *logger.Logger
	DB       txRunner
	Rows     rowStore
	DLQ      deadLetters
	Registry resolver
	Sender   sender
	Metrics  *metrics.OutboxMetrics
}

// Relay moves committed outbox rows to Pub/Sub. Each batch is claimed and
// settled inside one transaction so concurrent relays never publish the same
// row in parallel.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	rows        rowStore
	dlq         deadLetters
	registry    resolver
	sender      sender
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Sender == nil:
		return nil, errors.New("sender is required")
	}
	cfg := params.Config
	return &Relay{
		logg:        params.Logger,
		db:          params.DB,
		rows:        params.Rows,
		dlq:         params.DLQ,
		registry:    params.Registry,
		sender:      params.Sender,
		metrics:     params.Metrics,
		batchSize:   positiveOr(cfg.BatchSize, 50),
		maxAttempts: positiveOr(cfg.MaxAttempts, 10),
		poll:        time.Duration(positiveOr(cfg.PollIntervalMS, 500)) * time.Millisecond,
		now:         time.Now,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run drains the outbox until ctx is canceled. Full batches are followed
// immediately by the next claim; errors back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	wait := r.poll
	for {
		claimed, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case claimed >= r.batchSize:
			wait = r.poll
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		default:
			wait = r.poll
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// drain claims one batch and settles every row in it.
func (r *Relay) drain(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.rows.Claim(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		claimed = len(rows)
		if claimed == 0 {
			return nil
		}
		r.metrics.IncBatch()
		for _, row := range rows {
			if err := r.settle(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// settle publishes row and records the result. Only storage errors are
// returned; publish failures are written to the row or the DLQ.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	rowCtx := r.logg.WithFields(ctx, map[string]any{
		"event_id":       row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	})

	resolved, err := r.registry.Resolve(row)
	if err == nil {
		rowCtx = r.logg.WithField(rowCtx, "topic", resolved.Descriptor.Topic)
		err = r.publish(rowCtx, row, resolved)
	}

	switch {
	case err == nil:
		at := r.now()
		if markErr := r.rows.MarkPublished(tx, row.ID, at); markErr != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, markErr)
		}
		r.metrics.ObservePublish(string(row.EventType), metrics.PublishPublished)
		r.metrics.ObserveLag(string(row.EventType), at.Sub(row.CreatedAt))
		r.logg.Info(rowCtx, "outbox event published")
		return nil
	case registry.IsPermanent(err):
		return r.deadLetter(rowCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	case row.AttemptCount+1 >= r.maxAttempts:
		return r.deadLetter(rowCtx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("attempts exhausted: %w", err))
	default:
		r.logg.Warn(r.logg.WithField(rowCtx, "error", err.Error()), "outbox publish failed; will retry")
		if markErr := r.rows.RecordFailure(tx, row.ID, err); markErr != nil {
			return fmt.Errorf("record failure %s: %w", row.ID, markErr)
		}
		r.metrics.ObservePublish(string(row.EventType), metrics.PublishRetry)
		return nil
	}
}

// publish sends the stored envelope bytes unchanged.
func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.Resolved) error {
	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.sender.Send(sendCtx, resolved.Descriptor.Topic, &gcppubsub.Message{
		Data:       row.Payload,
		Attributes: resolved.Envelope.Attributes(),
	})
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"dlq_reason": reason,
		"error":      cause.Error(),
	}), "outbox event dead-lettered")
	if err := r.dlq.Insert(tx, outbox.DeadLetter(row, reason, cause, r.now())); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.rows.Retire(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("retire %s: %w", row.ID, err)
	}
	r.metrics.ObservePublish(string(row.EventType), metrics.PublishDeadLettered)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type publisherSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// pubsubSender resolves a publisher per topic and waits for the server ack.
type pubsubSender struct {
	client publisherSource
}

func (s pubsubSender) Send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.client.Publisher(topic)
	if pub == nil {
		return registry.Permanent(fmt.Errorf("no publisher for topic %s", topic))
	}
	if _, err := pub.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
