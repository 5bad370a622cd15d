package models

import "time"

// NumberSequence is the locked counter row behind one business number prefix.
type NumberSequence struct {
	Prefix    string    `gorm:"column:prefix;type:text;primaryKey"`
	Period    string    `gorm:"column:period;type:text;not null;default:''"`
	Value     int64     `gorm:"column:value;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
