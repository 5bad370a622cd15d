package controllers

import (
	"net/http"

	"github.com/projectrefill/refill-backend/api/middleware"
	"github.com/projectrefill/refill-backend/api/responses"
	"github.com/projectrefill/refill-backend/api/validators"
	"github.com/projectrefill/refill-backend/internal/events"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

type createEventRequest struct {
	Kind            enums.EventKind        `json:"kind" validate:"required"`
	ClientReference *string                `json:"client_reference" validate:"omitempty,max=128"`
	Notes           *string                `json:"notes" validate:"omitempty,max=2000"`
	LineItems       []events.LineItemInput `json:"line_items" validate:"required,dive"`
}

type replaceLineItemsRequest struct {
	LineItems []events.LineItemInput `json:"line_items" validate:"required,dive"`
}

// EventCreate opens a draft. A repeated client_reference returns the draft the
// first request created.
func EventCreate(svc events.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "events service unavailable"))
			return
		}
		var req createEventRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		event, err := svc.CreateDraft(r.Context(), events.CreateDraftInput{
			Kind:            req.Kind,
			Actor:           middleware.ActorFromContext(r.Context()),
			ClientReference: req.ClientReference,
			Notes:           req.Notes,
			LineItems:       req.LineItems,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, event)
	}
}

func EventReplaceLineItems(svc events.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "events service unavailable"))
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req replaceLineItemsRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		event, err := svc.ReplaceLineItems(r.Context(), events.ReplaceLineItemsInput{
			EventID:   eventID,
			Actor:     middleware.ActorFromContext(r.Context()),
			LineItems: req.LineItems,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, event)
	}
}

func EventGet(svc events.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "events service unavailable"))
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		event, err := svc.Get(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, event)
	}
}

func EventList(svc events.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "events service unavailable"))
			return
		}
		kind, err := validators.ParseQueryEnum(r, "kind", enums.ParseEventKind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		state, err := validators.ParseQueryEnum(r, "state", enums.ParseEventState)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), events.ListFilter{Kind: kind, State: state, Limit: limit})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// EventConfirm posts a draft to the ledger. A second confirm answers with
// ALREADY_CONFIRMED and the business number in the details.
func EventConfirm(svc events.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "events service unavailable"))
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithEventID(ctx, eventID.String())
		}
		result, err := svc.Confirm(ctx, events.ConfirmInput{
			EventID: eventID,
			Actor:   middleware.ActorFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
