package enums

import "fmt"

// MovementDirection describes which side(s) of a line item move stock.
type MovementDirection string

const (
	// MovementOut decrements the source location.
	MovementOut MovementDirection = "out"
	// MovementIn increments the destination location.
	MovementIn MovementDirection = "in"
	// MovementTransfer decrements the source and increments the destination.
	MovementTransfer MovementDirection = "transfer"
)

var validMovementDirections = []MovementDirection{
	MovementOut,
	MovementIn,
	MovementTransfer,
}

// IsValid reports whether the value matches the canonical direction enum.
func (d MovementDirection) IsValid() bool {
	for _, candidate := range validMovementDirections {
		if candidate == d {
			return true
		}
	}
	return false
}

// NeedsSource reports whether the direction decrements a source location.
func (d MovementDirection) NeedsSource() bool {
	return d == MovementOut || d == MovementTransfer
}

// NeedsDestination reports whether the direction increments a destination location.
func (d MovementDirection) NeedsDestination() bool {
	return d == MovementIn || d == MovementTransfer
}

// ParseMovementDirection converts raw input into MovementDirection.
func ParseMovementDirection(value string) (MovementDirection, error) {
	for _, candidate := range validMovementDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid movement direction %q", value)
}
