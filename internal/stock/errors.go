package stock

import (
	"errors"

	"github.com/google/uuid"

	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
)

// ErrDuplicateIdempotencyKey signals that a posting was already applied. The
// posting has been rolled back to its savepoint and the transaction is still usable.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already applied")

// Shortage describes one pair that would go negative.
type Shortage struct {
	Location    Location  `json:"location"`
	EquipmentID uuid.UUID `json:"equipment_id"`
	Available   int64     `json:"available"`
	Required    int64     `json:"required"`
}

func insufficientStock(shortages []Shortage) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for one or more line items").
		WithDetails(map[string]any{"shortages": shortages})
}
