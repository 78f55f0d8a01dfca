// Package domain contains the size dictionary models shared across sources.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Region identifies the sizing system an offer was quoted in.
type Region string

const (
	RegionUS Region = "US"
	RegionUK Region = "UK"
	RegionEU Region = "EU"
	RegionCM Region = "CM"
)

// Valid reports whether the region is one of the supported sizing systems.
func (r Region) Valid() bool {
	switch r {
	case RegionUS, RegionUK, RegionEU, RegionCM:
		return true
	}
	return false
}

// Size is one marketplace's notion of a shoe size. StandardizedValue is the
// EU-equivalent scale in hundredths (EU 42 = 4200) so cross-region equality
// stays exact integer comparison. It is always recomputed from
// (RawValue, Region), never hand-edited, and rows are never deleted because
// historical prices reference them.
type Size struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	RawValue          string       `gorm:"type:text;not null;uniqueIndex:idx_sizes_region_raw"`
	Region            Region       `gorm:"type:text;not null;uniqueIndex:idx_sizes_region_raw"`
	StandardizedValue int64        `gorm:"not null;index"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Size) TableName() string { return "sizes" }

// StandardizedDecimal returns the EU-scale size as a decimal for display.
func (s Size) StandardizedDecimal() float64 {
	return float64(s.StandardizedValue) / 100
}
