// Package domain contains the price ledger and its latest-price projection.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SourceType classifies where an observation came from.
type SourceType string

const (
	SourceTypeRetailFeed SourceType = "retail_feed"
	SourceTypeResaleAPI  SourceType = "resale_api"
	SourceTypeManual     SourceType = "manual"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeRetailFeed, SourceTypeResaleAPI, SourceTypeManual:
		return true
	}
	return false
}

// PriceType classifies what kind of price was observed.
type PriceType string

const (
	PriceTypeRetail         PriceType = "retail"
	PriceTypeResaleBid      PriceType = "resale_bid"
	PriceTypeResaleAsk      PriceType = "resale_ask"
	PriceTypeResaleLastSale PriceType = "resale_last_sale"
)

func (t PriceType) Valid() bool {
	switch t {
	case PriceTypeRetail, PriceTypeResaleBid, PriceTypeResaleAsk, PriceTypeResaleLastSale:
		return true
	}
	return false
}

// PriceObservation is one immutable ledger fact: source S reported product P,
// size Z at price X in currency C, stock state K, at time T. Rows are append
// only; retention/pruning is an external policy. Prices are integer minor
// units throughout to avoid float drift on recomputation.
//
// SizeID zero means the source priced the product without size granularity.
type PriceObservation struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	ProductID       snowflake.ID      `gorm:"not null;index:idx_obs_key"`
	SizeID          snowflake.ID      `gorm:"not null;default:0;index:idx_obs_key"`
	SourceType      SourceType        `gorm:"type:text;not null;index:idx_obs_key;uniqueIndex:idx_obs_source_ref"`
	PriceType       PriceType         `gorm:"type:text;not null;index:idx_obs_key"`
	PriceMinorUnits int64             `gorm:"not null"`
	Currency        string            `gorm:"type:text;not null"`
	InStock         bool              `gorm:"not null"`
	ObservedAt      time.Time         `gorm:"not null"`
	SourceRef       string            `gorm:"type:text;not null;uniqueIndex:idx_obs_source_ref"`
	Marketplace     string            `gorm:"type:text"` // source name, e.g. "stockx", "awin:sizeofficial"
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PriceObservation) TableName() string { return "price_observations" }

// LatestPrice is the current-value projection of the ledger: exactly one row
// per (product, size, source type, price type) key, always equal to the
// newest observation for that key by observed_at, ties broken by ingestion
// order. PreviousPriceMinorUnits carries the prior value whenever an update
// changed the price, which is what price-change notifications consume.
type LatestPrice struct {
	ID                      snowflake.ID      `gorm:"primaryKey"`
	ProductID               snowflake.ID      `gorm:"not null;uniqueIndex:idx_latest_key"`
	SizeID                  snowflake.ID      `gorm:"not null;default:0;uniqueIndex:idx_latest_key"`
	SourceType              SourceType        `gorm:"type:text;not null;uniqueIndex:idx_latest_key"`
	PriceType               PriceType         `gorm:"type:text;not null;uniqueIndex:idx_latest_key;index"`
	PriceMinorUnits         int64             `gorm:"not null"`
	Currency                string            `gorm:"type:text;not null"`
	InStock                 bool              `gorm:"not null"`
	ObservedAt              time.Time         `gorm:"not null"`
	Marketplace             string            `gorm:"type:text"`
	Metadata                datatypes.JSONMap `gorm:"type:jsonb"`
	PreviousPriceMinorUnits *int64            `gorm:""`
	UpdatedAt               time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LatestPrice) TableName() string { return "latest_prices" }
