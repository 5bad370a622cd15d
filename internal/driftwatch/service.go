package driftwatch

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/idempotency"
)

const consumerName = "driftwatch"

// Handler processes decoded inventory envelopes.
type Handler interface {
	Accepts(eventType enums.OutboxEventType) bool
	Handle(ctx context.Context, env outbox.Envelope) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type idempotencyChecker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Claim, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Service consumes the inventory topic subscription while honoring Redis idempotency.
type Service struct {
	subscription receiver
	handler      Handler
	manager      idempotencyChecker
	metrics      *metrics.DriftWatchMetrics
	logg         *logger.Logger
}

type ServiceParams struct {
	Subscription receiver
	Handler      Handler
	Idempotency  idempotencyChecker
	Metrics      *metrics.DriftWatchMetrics
	Logger       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscription == nil {
		return nil, errors.New("drift subscription is required")
	}
	if params.Handler == nil {
		return nil, errors.New("drift handler is required")
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: params.Subscription,
		handler:      params.Handler,
		manager:      params.Idempotency,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack   bool
	result string
}

// Run consumes messages until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID}

	env, err := DecodeMessage(msg.Data, msg.Attributes)
	if err != nil {
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "invalid inventory envelope")
		return s.finish(msg.Attributes["event_type"], processResult{result: "invalid"})
	}
	fields["event_id"] = env.EventID.String()
	fields["event_type"] = string(env.EventType)
	fields["aggregate_id"] = env.AggregateID.String()
	fields["occurred_at"] = env.OccurredAt.Format(time.RFC3339Nano)
	logCtx := s.logg.WithFields(ctx, fields)

	if !s.handler.Accepts(env.EventType) {
		s.logg.Debug(logCtx, "event type not watched")
		return s.finish(string(env.EventType), processResult{result: "ignored"})
	}

	claim, err := s.manager.Claim(logCtx, consumerName, env.EventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return s.finish(string(env.EventType), processResult{nack: true, result: "retry"})
	}
	switch claim {
	case idempotency.Done:
		s.logg.Info(logCtx, "event already processed")
		return s.finish(string(env.EventType), processResult{result: "duplicate"})
	case idempotency.InFlight:
		s.logg.Debug(logCtx, "event held by another worker")
		return s.finish(string(env.EventType), processResult{nack: true, result: "in_flight"})
	}

	if err := s.handler.Handle(logCtx, env); err != nil {
		s.logg.Error(logCtx, "drift handler error", err)
		if relErr := s.manager.Release(logCtx, consumerName, env.EventID); relErr != nil {
			s.logg.Error(logCtx, "failed to release idempotency claim", relErr)
		}
		return s.finish(string(env.EventType), processResult{nack: true, result: "retry"})
	}
	if err := s.manager.Complete(logCtx, consumerName, env.EventID); err != nil {
		s.logg.Error(logCtx, "failed to mark event processed", err)
	}

	s.logg.Info(logCtx, "inventory event handled")
	return s.finish(string(env.EventType), processResult{result: "handled"})
}

func (s *Service) finish(eventType string, res processResult) processResult {
	s.metrics.ObserveMessage(eventType, res.result)
	return res
}
