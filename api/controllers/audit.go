package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/api/responses"
	"github.com/projectrefill/refill-backend/api/validators"
	"github.com/projectrefill/refill-backend/internal/audit"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

// AuditLister reads the audit trail.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) ([]models.AuditEvent, error)
}

type auditView struct {
	ID          uuid.UUID             `json:"id"`
	Actor       string                `json:"actor"`
	Action      enums.AuditAction     `json:"action"`
	EntityType  enums.AuditEntityType `json:"entity_type"`
	EntityID    uuid.UUID             `json:"entity_id"`
	BeforeState json.RawMessage       `json:"before_state,omitempty"`
	AfterState  json.RawMessage       `json:"after_state,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// AuditList returns the audit trail of one entity, oldest first.
func AuditList(lister AuditLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lister == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit log unavailable"))
			return
		}
		entityType, err := validators.ParseQueryEnum(r, "entity_type", enums.ParseAuditEntityType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entityID, err := validators.ParseQueryUUID(r, "entity_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if entityType == nil || entityID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "entity_type and entity_id are required"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := lister.List(r.Context(), audit.Filter{EntityType: entityType, EntityID: entityID, Limit: limit})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit events"))
			return
		}
		out := make([]auditView, 0, len(rows))
		for _, row := range rows {
			out = append(out, auditView{
				ID:          row.ID,
				Actor:       row.Actor,
				Action:      row.Action,
				EntityType:  row.EntityType,
				EntityID:    row.EntityID,
				BeforeState: row.BeforeState,
				AfterState:  row.AfterState,
				CreatedAt:   row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
