package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
)

// LineItemInput describes one movement on a draft.
type LineItemInput struct {
	TxType            enums.TxType            `json:"tx_type"`
	Direction         enums.MovementDirection `json:"direction"`
	EquipmentID       uuid.UUID               `json:"equipment_id"`
	EquipmentCategory enums.EquipmentCategory `json:"equipment_category"`
	Source            *stock.Location         `json:"source,omitempty"`
	Destination       *stock.Location         `json:"destination,omitempty"`
	Quantity          int64                   `json:"quantity" validate:"gt=0,lte=1000000"`
}

// CreateDraftInput opens a new event. ClientReference makes retried creates return
// the event the first call made.
type CreateDraftInput struct {
	Kind            enums.EventKind
	Actor           string
	ClientReference *string
	Notes           *string
	LineItems       []LineItemInput
}

// ReplaceLineItemsInput overwrites every line item of a draft.
type ReplaceLineItemsInput struct {
	EventID   uuid.UUID
	Actor     string
	LineItems []LineItemInput
}

// ConfirmInput confirms a draft.
type ConfirmInput struct {
	EventID uuid.UUID
	Actor   string
}

// LineItem is the read shape of a stored line item.
type LineItem struct {
	LineIndex         int                     `json:"line_index"`
	TxType            enums.TxType            `json:"tx_type"`
	Direction         enums.MovementDirection `json:"direction"`
	EquipmentID       uuid.UUID               `json:"equipment_id"`
	EquipmentCategory enums.EquipmentCategory `json:"equipment_category"`
	Source            *stock.Location         `json:"source,omitempty"`
	Destination       *stock.Location         `json:"destination,omitempty"`
	Quantity          int64                   `json:"quantity"`
}

// Event is the read shape of an event with its line items.
type Event struct {
	ID              uuid.UUID        `json:"id"`
	Kind            enums.EventKind  `json:"kind"`
	State           enums.EventState `json:"state"`
	BusinessNumber  *string          `json:"business_number,omitempty"`
	ClientReference *string          `json:"client_reference,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	CreatedBy       string           `json:"created_by"`
	ConfirmedBy     *string          `json:"confirmed_by,omitempty"`
	ConfirmedAt     *time.Time       `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	LineItems       []LineItem       `json:"line_items"`
}

// ConfirmResult is returned by Confirm. Changes is empty when the ledger
// already held this event's entries.
type ConfirmResult struct {
	Event   *Event             `json:"event"`
	Changes []stock.PairChange `json:"changes"`
	Replay  bool               `json:"replay"`
}

// auditState is what the audit log stores for an event.
type auditState struct {
	State          enums.EventState   `json:"state"`
	BusinessNumber *string            `json:"business_number,omitempty"`
	LineItems      []LineItem         `json:"line_items"`
	Snapshots      []snapshotQuantity `json:"snapshots,omitempty"`
}

type snapshotQuantity struct {
	Pair     stock.Pair `json:"pair"`
	Quantity int64      `json:"quantity"`
}

func quantitiesBefore(changes []stock.PairChange) []snapshotQuantity {
	out := make([]snapshotQuantity, 0, len(changes))
	for _, change := range changes {
		out = append(out, snapshotQuantity{Pair: change.Pair, Quantity: change.Before})
	}
	return out
}

func quantitiesAfter(changes []stock.PairChange) []snapshotQuantity {
	out := make([]snapshotQuantity, 0, len(changes))
	for _, change := range changes {
		out = append(out, snapshotQuantity{Pair: change.Pair, Quantity: change.After})
	}
	return out
}

func toEvent(event models.Event, items []models.EventLineItem) *Event {
	out := &Event{
		ID:              event.ID,
		Kind:            event.Kind,
		State:           event.State,
		BusinessNumber:  event.BusinessNumber,
		ClientReference: event.ClientReference,
		Notes:           event.Notes,
		CreatedBy:       event.CreatedBy,
		ConfirmedBy:     event.ConfirmedBy,
		ConfirmedAt:     event.ConfirmedAt,
		CreatedAt:       event.CreatedAt,
		UpdatedAt:       event.UpdatedAt,
		LineItems:       toLineItems(items),
	}
	return out
}

func toLineItems(items []models.EventLineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, LineItem{
			LineIndex:         item.LineIndex,
			TxType:            item.TxType,
			Direction:         item.Direction,
			EquipmentID:       item.EquipmentID,
			EquipmentCategory: item.EquipmentCategory,
			Source:            locationOf(item.SourceType, item.SourceID),
			Destination:       locationOf(item.DestinationType, item.DestinationID),
			Quantity:          item.Quantity,
		})
	}
	return out
}

func locationOf(locationType *enums.LocationType, id *uuid.UUID) *stock.Location {
	if locationType == nil || id == nil {
		return nil
	}
	return &stock.Location{Type: *locationType, ID: *id}
}
