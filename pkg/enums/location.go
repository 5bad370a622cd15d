package enums

import "fmt"

// LocationType tags which kind of place a ledger or snapshot row refers to.
type LocationType string

const (
	LocationTypeDepot        LocationType = "depot"
	LocationTypeCustomerSite LocationType = "customer_site"
)

var validLocationTypes = []LocationType{
	LocationTypeDepot,
	LocationTypeCustomerSite,
}

// IsValid reports whether the value matches the canonical location type enum.
func (t LocationType) IsValid() bool {
	for _, candidate := range validLocationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLocationType converts raw input into LocationType.
func ParseLocationType(value string) (LocationType, error) {
	for _, candidate := range validLocationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid location type %q", value)
}
