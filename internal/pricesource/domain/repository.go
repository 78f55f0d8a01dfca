package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository is the narrow persistence contract of the price source store:
// append for observations, upsert-with-timestamp-comparison for the
// projection, indexed lookup by key.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository

	// InsertObservation appends the observation. It returns false without
	// error when (source_type, source_ref) was already ingested.
	InsertObservation(ctx context.Context, obs *PriceObservation) (bool, error)
	FindBySourceRef(ctx context.Context, sourceType SourceType, sourceRef string) (*PriceObservation, error)

	FindLatest(ctx context.Context, key Key) (*LatestPrice, error)
	SaveLatest(ctx context.Context, latest *LatestPrice) error

	ListHistory(ctx context.Context, q HistoryQuery) ([]*PriceObservation, error)
	ListLatestByPriceTypes(ctx context.Context, priceTypes []PriceType) ([]*LatestPrice, error)
	Stats(ctx context.Context) ([]SourceStat, error)
}
