package events

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
)

const maxLineItems = 200

// MaxLineItemQuantity bounds a single line item so that the net movement of a
// whole event always fits in a snapshot quantity.
const MaxLineItemQuantity = 1_000_000

func validateLineItems(kind enums.EventKind, items []LineItemInput) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	if len(items) > maxLineItems {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d line items are allowed", maxLineItems))
	}
	for i, item := range items {
		if err := validateLineItem(kind, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("line item %d: %s", i, err.Error())).
				WithDetails(map[string]any{"line_index": i})
		}
	}
	return nil
}

func validateLineItem(kind enums.EventKind, item LineItemInput) error {
	if !item.TxType.IsValid() {
		return fmt.Errorf("invalid tx type %q", item.TxType)
	}
	if !kind.AllowsTxType(item.TxType) {
		return fmt.Errorf("tx type %s not allowed on a %s", item.TxType, kind)
	}
	if !item.Direction.IsValid() {
		return fmt.Errorf("invalid direction %q", item.Direction)
	}
	if item.EquipmentID == uuid.Nil {
		return fmt.Errorf("equipment id is required")
	}
	if !item.EquipmentCategory.IsValid() {
		return fmt.Errorf("invalid equipment category %q", item.EquipmentCategory)
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if item.Quantity > MaxLineItemQuantity {
		return fmt.Errorf("quantity must be at most %d", MaxLineItemQuantity)
	}

	if item.Direction.NeedsSource() {
		if item.Source == nil {
			return fmt.Errorf("%s movement requires a source", item.Direction)
		}
		if err := item.Source.Validate(); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	} else if item.Source != nil {
		return fmt.Errorf("%s movement must not have a source", item.Direction)
	}

	if item.Direction.NeedsDestination() {
		if item.Destination == nil {
			return fmt.Errorf("%s movement requires a destination", item.Direction)
		}
		if err := item.Destination.Validate(); err != nil {
			return fmt.Errorf("destination: %w", err)
		}
	} else if item.Destination != nil {
		return fmt.Errorf("%s movement must not have a destination", item.Direction)
	}

	if item.Source != nil && item.Destination != nil && *item.Source == *item.Destination {
		return fmt.Errorf("source and destination must differ")
	}
	return nil
}

func buildLineItems(items []LineItemInput) []models.EventLineItem {
	out := make([]models.EventLineItem, 0, len(items))
	for i, item := range items {
		row := models.EventLineItem{
			LineIndex:         i,
			TxType:            item.TxType,
			Direction:         item.Direction,
			EquipmentID:       item.EquipmentID,
			EquipmentCategory: item.EquipmentCategory,
			Quantity:          item.Quantity,
		}
		if item.Source != nil {
			locationType, id := item.Source.Type, item.Source.ID
			row.SourceType, row.SourceID = &locationType, &id
		}
		if item.Destination != nil {
			locationType, id := item.Destination.Type, item.Destination.ID
			row.DestinationType, row.DestinationID = &locationType, &id
		}
		out = append(out, row)
	}
	return out
}

// buildPostings turns stored line items into signed ledger postings keyed by
// business number and line index.
func buildPostings(businessNumber string, items []models.EventLineItem) ([]stock.Posting, error) {
	postings := make([]stock.Posting, 0, len(items))
	for _, item := range items {
		base := fmt.Sprintf("%s:%d", businessNumber, item.LineIndex)
		source := locationOf(item.SourceType, item.SourceID)
		destination := locationOf(item.DestinationType, item.DestinationID)

		switch item.Direction {
		case enums.MovementOut:
			if source == nil {
				return nil, fmt.Errorf("line item %d has no source", item.LineIndex)
			}
			postings = append(postings, stock.Posting{
				Pair:           stock.Pair{Location: *source, EquipmentID: item.EquipmentID},
				TxType:         item.TxType,
				Delta:          -item.Quantity,
				IdempotencyKey: base,
			})
		case enums.MovementIn:
			if destination == nil {
				return nil, fmt.Errorf("line item %d has no destination", item.LineIndex)
			}
			postings = append(postings, stock.Posting{
				Pair:           stock.Pair{Location: *destination, EquipmentID: item.EquipmentID},
				TxType:         item.TxType,
				Delta:          item.Quantity,
				IdempotencyKey: base,
			})
		case enums.MovementTransfer:
			if source == nil || destination == nil {
				return nil, fmt.Errorf("line item %d needs both locations", item.LineIndex)
			}
			postings = append(postings,
				stock.Posting{
					Pair:           stock.Pair{Location: *source, EquipmentID: item.EquipmentID},
					TxType:         item.TxType,
					Delta:          -item.Quantity,
					IdempotencyKey: base + ":out",
				},
				stock.Posting{
					Pair:           stock.Pair{Location: *destination, EquipmentID: item.EquipmentID},
					TxType:         item.TxType,
					Delta:          item.Quantity,
					IdempotencyKey: base + ":in",
				},
			)
		default:
			return nil, fmt.Errorf("line item %d has invalid direction %q", item.LineIndex, item.Direction)
		}
	}
	return postings, nil
}
