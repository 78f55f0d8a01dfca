// Package domain contains held-unit inventory models and their derived metrics.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UnitStatus tracks where a physical unit sits in its lifecycle.
type UnitStatus string

const (
	UnitStatusInStock UnitStatus = "in_stock"
	UnitStatusListed  UnitStatus = "listed"
	UnitStatusSold    UnitStatus = "sold"
)

func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusInStock, UnitStatusListed, UnitStatusSold:
		return true
	}
	return false
}

// HeldUnit is one physical unit of stock owned by the business. Sold units
// must carry sold_at and sale_price; both stay nil until then.
type HeldUnit struct {
	ID                         snowflake.ID `gorm:"primaryKey"`
	ProductID                  snowflake.ID `gorm:"not null;index"`
	SizeID                     snowflake.ID `gorm:"not null;default:0"`
	AcquisitionPriceMinorUnits int64        `gorm:"not null"`
	Currency                   string       `gorm:"type:text;not null"`
	AcquiredAt                 time.Time    `gorm:"not null"`
	SoldAt                     *time.Time   `gorm:""`
	SalePriceMinorUnits        *int64       `gorm:""`
	Status                     UnitStatus   `gorm:"type:text;not null;index"`
	CreatedAt                  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (HeldUnit) TableName() string { return "held_units" }

// HeldUnitAnalytics is derived, never stored as ground truth. ROI and
// profit-per-day stay nil when no sale price or resale reference exists;
// they are never fabricated from missing data.
type HeldUnitAnalytics struct {
	ShelfLifeDays          int      `json:"shelf_life_days"`
	ROIPercent             *float64 `json:"roi_percent,omitempty"`
	ProfitPerDayMinorUnits *int64   `json:"profit_per_day_minor_units,omitempty"`
	IsDeadStock            bool     `json:"is_dead_stock"`
}

// ComputeOptions tunes a single computation. A zero threshold falls back to
// the configured engine default.
type ComputeOptions struct {
	DeadStockThresholdDays int
	// ResaleReferenceMinorUnits lets callers value unsold units against the
	// best current resale price.
	ResaleReferenceMinorUnits *int64
}

// UnitReport pairs a unit with its computed metrics.
type UnitReport struct {
	Unit      HeldUnit          `json:"unit"`
	Analytics HeldUnitAnalytics `json:"analytics"`
}

// DeadStockReport is the bulk analysis output: every unit's metrics ranked
// by profit-per-shelf-day, plus the dead-stock aggregates the buying team
// watches.
type DeadStockReport struct {
	Units                   []UnitReport `json:"units"`
	DeadCount               int          `json:"dead_count"`
	LockedCapitalMinorUnits int64        `json:"locked_capital_minor_units"`
}

// Service derives per-unit metrics. Pure computation, no I/O, safe for any
// number of concurrent callers.
type Service interface {
	Compute(unit HeldUnit, asOf time.Time, opts ComputeOptions) (HeldUnitAnalytics, error)
	Analyze(units []HeldUnit, asOf time.Time, opts ComputeOptions) (DeadStockReport, error)
}

var (
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrMissingSaleData         = errors.New("missing_sale_data")
	ErrSoldBeforeAcquired      = errors.New("sold_before_acquired")
	ErrAsOfBeforeAcquired      = errors.New("as_of_before_acquired")
	ErrInvalidAcquisitionPrice = errors.New("invalid_acquisition_price")
)
