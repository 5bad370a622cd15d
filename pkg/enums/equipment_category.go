package enums

import "fmt"

// EquipmentCategory groups equipment for reporting.
type EquipmentCategory string

const (
	EquipmentCategoryCylinder  EquipmentCategory = "cylinder"
	EquipmentCategoryMeter     EquipmentCategory = "meter"
	EquipmentCategoryRegulator EquipmentCategory = "regulator"
)

var validEquipmentCategories = []EquipmentCategory{
	EquipmentCategoryCylinder,
	EquipmentCategoryMeter,
	EquipmentCategoryRegulator,
}

func (c EquipmentCategory) IsValid() bool {
	for _, candidate := range validEquipmentCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseEquipmentCategory converts raw input into EquipmentCategory.
func ParseEquipmentCategory(value string) (EquipmentCategory, error) {
	for _, candidate := range validEquipmentCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid equipment category %q", value)
}
