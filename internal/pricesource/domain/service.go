package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/soleworks/soleledger/pkg/db/pagination"
)

// Key identifies one latest-price slot.
type Key struct {
	ProductID  snowflake.ID
	SizeID     snowflake.ID // zero when the source has no size granularity
	SourceType SourceType
	PriceType  PriceType
}

// RecordResult reports what a single RecordObservation call did.
type RecordResult struct {
	// Stored is false only for idempotency no-ops.
	Stored bool
	// Duplicate marks a source_ref that was already ingested; callers track
	// it for feed health, it is not an error.
	Duplicate bool
	// NewLatest is true when the observation advanced the projection.
	NewLatest bool
	// PriceChanged is true when NewLatest is true and the price differs from
	// the prior projected value.
	PriceChanged bool
}

type HistoryQuery struct {
	Key       Key
	Limit     int
	PageToken string
}

type HistoryResponse struct {
	pagination.PageInfo
	Observations []PriceObservation `json:"observations"`
}

// SourceStat aggregates ledger health per (source type, price type).
type SourceStat struct {
	SourceType      SourceType `gorm:"column:source_type"`
	PriceType       PriceType  `gorm:"column:price_type"`
	Observations    int64      `gorm:"column:observations"`
	UniqueProducts  int64      `gorm:"column:unique_products"`
	MinPriceMinor   int64      `gorm:"column:min_price_minor"`
	MaxPriceMinor   int64      `gorm:"column:max_price_minor"`
	AvgPriceMinor   float64    `gorm:"column:avg_price_minor"`
	InStockObserved int64      `gorm:"column:in_stock_observed"`
}

// Service is the price source store. RecordObservation is linearizable per
// key: concurrent writers for the same key never leave the projection older
// than the newest stored observation.
type Service interface {
	RecordObservation(ctx context.Context, obs PriceObservation) (RecordResult, error)
	GetLatest(ctx context.Context, key Key) (*LatestPrice, error)
	History(ctx context.Context, q HistoryQuery) (HistoryResponse, error)
	Stats(ctx context.Context) ([]SourceStat, error)
}

var (
	ErrInvalidProduct    = errors.New("invalid_product")
	ErrInvalidPrice      = errors.New("invalid_price")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidSourceType = errors.New("invalid_source_type")
	ErrInvalidPriceType  = errors.New("invalid_price_type")
	ErrMissingSourceRef  = errors.New("missing_source_ref")
	ErrInvalidObservedAt = errors.New("invalid_observed_at")
)
