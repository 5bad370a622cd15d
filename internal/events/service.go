package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/internal/audit"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/config"
	dbpkg "github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type numberGenerator interface {
	Generate(ctx context.Context, tx *gorm.DB, prefix string, resetDaily bool) (string, error)
}

type stockPoster interface {
	Post(ctx context.Context, tx *gorm.DB, input stock.PostInput) (*stock.PostResult, error)
}

type outboxPublisher interface {
	EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

// Service drives events through DRAFT -> CONFIRMED.
type Service interface {
	CreateDraft(ctx context.Context, input CreateDraftInput) (*Event, error)
	ReplaceLineItems(ctx context.Context, input ReplaceLineItemsInput) (*Event, error)
	Get(ctx context.Context, id uuid.UUID) (*Event, error)
	List(ctx context.Context, filter ListFilter) ([]Event, error)
	Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
}

// ServiceParams wires the event service.
type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Numbering  numberGenerator
	Poster     stockPoster
	Audit      audit.Recorder
	Outbox     outboxPublisher
	Metrics    *metrics.InventoryMetrics
	Logger     *logger.Logger
	Config     config.NumberingConfig
	Clock      func() time.Time
}

type service struct {
	tx      txRunner
	repo    Repository
	numbers numberGenerator
	poster  stockPoster
	audit   audit.Recorder
	outbox  outboxPublisher
	metrics *metrics.InventoryMetrics
	logg    *logger.Logger
	cfg     config.NumberingConfig
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("events repository required")
	}
	if params.Numbering == nil {
		return nil, fmt.Errorf("numbering service required")
	}
	if params.Poster == nil {
		return nil, fmt.Errorf("stock poster required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.DistributionPrefix == "" || params.Config.TransactionPrefix == "" {
		return nil, fmt.Errorf("numbering prefixes required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		tx:      params.DB,
		repo:    params.Repository,
		numbers: params.Numbering,
		poster:  params.Poster,
		audit:   params.Audit,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		cfg:     params.Config,
		now:     clock,
	}, nil
}

func (s *service) CreateDraft(ctx context.Context, input CreateDraftInput) (*Event, error) {
	if input.Actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event kind %q", input.Kind))
	}
	if input.ClientReference != nil && *input.ClientReference == "" {
		input.ClientReference = nil
	}
	if err := validateLineItems(input.Kind, input.LineItems); err != nil {
		return nil, err
	}

	if input.ClientReference != nil {
		existing, err := s.findByClientReference(ctx, input.Kind, *input.ClientReference)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	var out *Event
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		event := models.Event{
			Kind:            input.Kind,
			State:           enums.EventStateDraft,
			ClientReference: input.ClientReference,
			Notes:           input.Notes,
			CreatedBy:       input.Actor,
		}
		items := buildLineItems(input.LineItems)
		if err := s.repo.WithTx(tx).Create(ctx, &event, items); err != nil {
			return err
		}
		out = toEvent(event, items)

		_, err := s.audit.Record(ctx, tx, audit.Entry{
			Actor:      input.Actor,
			Action:     enums.AuditActionEventCreated,
			EntityType: enums.AuditEntityEvent,
			EntityID:   event.ID,
			After:      auditState{State: event.State, LineItems: out.LineItems},
		})
		return err
	})
	if err != nil {
		if input.ClientReference != nil && dbpkg.IsUniqueViolation(err, "events_client_reference_key") {
			return s.findByClientReference(ctx, input.Kind, *input.ClientReference)
		}
		return nil, asDependency(err, "create draft")
	}

	logCtx := s.logg.WithEventID(ctx, out.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{"kind": out.Kind, "line_items": len(out.LineItems)})
	s.logg.Info(logCtx, "draft created")
	return out, nil
}

func (s *service) findByClientReference(ctx context.Context, kind enums.EventKind, reference string) (*Event, error) {
	event, err := s.repo.FindByClientReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup client reference")
	}
	if event == nil {
		return nil, nil
	}
	if event.Kind != kind {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "client reference already used by another event kind")
	}
	items, err := s.repo.ListLineItems(ctx, event.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
	}
	return toEvent(*event, items), nil
}

func (s *service) ReplaceLineItems(ctx context.Context, input ReplaceLineItemsInput) (*Event, error) {
	if input.EventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if input.Actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}

	var out *Event
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		event, err := repo.FindByIDForUpdate(ctx, input.EventID)
		if err != nil {
			return notFoundOr(err, "load event")
		}
		if event.IsConfirmed() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "line items can only change while the event is a draft").
				WithDetails(map[string]any{"state": event.State})
		}
		if err := validateLineItems(event.Kind, input.LineItems); err != nil {
			return err
		}

		previous, err := repo.ListLineItems(ctx, event.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
		}
		items := buildLineItems(input.LineItems)
		if err := repo.ReplaceLineItems(ctx, event.ID, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace line items")
		}
		out = toEvent(*event, items)

		_, err = s.audit.Record(ctx, tx, audit.Entry{
			Actor:      input.Actor,
			Action:     enums.AuditActionEventLineItemsReplaced,
			EntityType: enums.AuditEntityEvent,
			EntityID:   event.ID,
			Before:     auditState{State: event.State, LineItems: toLineItems(previous)},
			After:      auditState{State: event.State, LineItems: out.LineItems},
		})
		return err
	})
	if err != nil {
		return nil, asDependency(err, "replace line items")
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load event")
	}
	items, err := s.repo.ListLineItems(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
	}
	return toEvent(*event, items), nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]Event, error) {
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list events")
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, *toEvent(row, nil))
	}
	return out, nil
}

// Confirm posts a draft to the ledger. The event row, number counter and
// snapshot rows are locked in that order inside one transaction.
func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if input.EventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if input.Actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}

	var (
		result *ConfirmResult
		kind   enums.EventKind
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		event, err := repo.FindByIDForUpdate(ctx, input.EventID)
		if err != nil {
			return notFoundOr(err, "load event")
		}
		kind = event.Kind
		if event.IsConfirmed() {
			return alreadyConfirmed(event)
		}

		items, err := repo.ListLineItems(ctx, event.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
		}
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "event has no line items")
		}

		if event.BusinessNumber == nil {
			number, err := s.numbers.Generate(ctx, tx, s.prefixFor(event.Kind), s.cfg.ResetDaily)
			if err != nil {
				return err
			}
			if err := repo.AssignBusinessNumber(ctx, event.ID, number); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign business number")
			}
			event.BusinessNumber = &number
		}

		postings, err := buildPostings(*event.BusinessNumber, items)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "derive postings")
		}
		posted, err := s.poster.Post(ctx, tx, stock.PostInput{
			Actor:     input.Actor,
			Reference: stock.Reference{Type: enums.ReferenceFor(event.Kind), ID: event.ID.String()},
			Postings:  postings,
		})
		replay := false
		switch {
		case errors.Is(err, stock.ErrDuplicateIdempotencyKey):
			replay = true
			posted = &stock.PostResult{}
		case err != nil:
			return err
		}

		now := s.now().UTC()
		if err := repo.MarkConfirmed(ctx, event.ID, input.Actor, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark confirmed")
		}
		lineItems := toLineItems(items)
		before := auditState{State: event.State, LineItems: lineItems, Snapshots: quantitiesBefore(posted.Changes)}
		event.State = enums.EventStateConfirmed
		event.ConfirmedBy = &input.Actor
		event.ConfirmedAt = &now
		after := auditState{State: event.State, BusinessNumber: event.BusinessNumber, LineItems: lineItems, Snapshots: quantitiesAfter(posted.Changes)}

		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			Actor:      input.Actor,
			Action:     enums.AuditActionEventConfirmed,
			EntityType: enums.AuditEntityEvent,
			EntityID:   event.ID,
			Before:     before,
			After:      after,
		}); err != nil {
			return err
		}

		if err := s.outbox.EmitOnce(ctx, tx, outbox.Event{
			Type:          enums.EventInventoryEventConfirmed,
			AggregateType: enums.AggregateInventoryEvent,
			AggregateID:   event.ID,
			Actor:         input.Actor,
			OccurredAt:    now,
			Data: payloads.InventoryEventConfirmed{
				EventID:        event.ID,
				Kind:           event.Kind,
				BusinessNumber: *event.BusinessNumber,
				ConfirmedBy:    input.Actor,
				ConfirmedAt:    now,
				LineItemCount:  len(items),
				Movements:      toMovements(posted.Changes),
			},
		}); err != nil {
			return err
		}

		result = &ConfirmResult{Event: toEvent(*event, items), Changes: posted.Changes, Replay: replay}
		return nil
	})
	s.metrics.ObserveConfirm(string(kind), confirmOutcome(err, result))
	if err != nil {
		return nil, asDependency(err, "confirm event")
	}

	logCtx := s.logg.WithEventID(ctx, result.Event.ID.String())
	logCtx = s.logg.WithActor(logCtx, input.Actor)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"business_number": *result.Event.BusinessNumber,
		"pairs_changed":   len(result.Changes),
		"replay":          result.Replay,
	})
	s.logg.Info(logCtx, "event confirmed")
	return result, nil
}

func (s *service) prefixFor(kind enums.EventKind) string {
	if kind == enums.EventKindTransaction {
		return s.cfg.TransactionPrefix
	}
	return s.cfg.DistributionPrefix
}

func alreadyConfirmed(event *models.Event) error {
	details := map[string]any{"event_id": event.ID}
	if event.BusinessNumber != nil {
		details["business_number"] = *event.BusinessNumber
	}
	if event.ConfirmedAt != nil {
		details["confirmed_at"] = event.ConfirmedAt.UTC()
	}
	if event.ConfirmedBy != nil {
		details["confirmed_by"] = *event.ConfirmedBy
	}
	return pkgerrors.New(pkgerrors.CodeAlreadyConfirmed, "event already confirmed").WithDetails(details)
}

func toMovements(changes []stock.PairChange) []payloads.Movement {
	out := make([]payloads.Movement, 0, len(changes))
	for _, change := range changes {
		out = append(out, payloads.Movement{
			LocationType: change.Pair.Location.Type,
			LocationID:   change.Pair.Location.ID,
			EquipmentID:  change.Pair.EquipmentID,
			Before:       change.Before,
			After:        change.After,
		})
	}
	return out
}

func confirmOutcome(err error, result *ConfirmResult) string {
	if err == nil {
		if result != nil && result.Replay {
			return "replay"
		}
		return "confirmed"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return "error"
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

// asDependency leaves typed errors alone and wraps anything else.
func asDependency(err error, action string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
