package stock

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// Location is a tagged reference to exactly one depot or customer site.
type Location struct {
	Type enums.LocationType `json:"type"`
	ID   uuid.UUID          `json:"id"`
}

// NewLocation validates the tag and identifier.
func NewLocation(locationType enums.LocationType, id uuid.UUID) (Location, error) {
	loc := Location{Type: locationType, ID: id}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

func Depot(id uuid.UUID) Location {
	return Location{Type: enums.LocationTypeDepot, ID: id}
}

func CustomerSite(id uuid.UUID) Location {
	return Location{Type: enums.LocationTypeCustomerSite, ID: id}
}

func (l Location) Validate() error {
	if !l.Type.IsValid() {
		return fmt.Errorf("invalid location type %q", l.Type)
	}
	if l.ID == uuid.Nil {
		return fmt.Errorf("%s location id is required", l.Type)
	}
	return nil
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%s", l.Type, l.ID)
}

// Pair identifies one snapshot row: a location holding one equipment type.
type Pair struct {
	Location    Location  `json:"location"`
	EquipmentID uuid.UUID `json:"equipment_id"`
}

func (p Pair) Validate() error {
	if err := p.Location.Validate(); err != nil {
		return err
	}
	if p.EquipmentID == uuid.Nil {
		return fmt.Errorf("equipment id is required")
	}
	return nil
}

func (p Pair) String() string {
	return fmt.Sprintf("%s:%s", p.Location, p.EquipmentID)
}

func (p Pair) less(o Pair) bool {
	if p.Location.Type != o.Location.Type {
		return p.Location.Type < o.Location.Type
	}
	if p.Location.ID != o.Location.ID {
		return p.Location.ID.String() < o.Location.ID.String()
	}
	return p.EquipmentID.String() < o.EquipmentID.String()
}

// SortPairs orders pairs deterministically; every writer locks snapshot rows in this order.
func SortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].less(pairs[j]) })
}
