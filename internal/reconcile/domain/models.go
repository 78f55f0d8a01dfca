// Package domain defines the reconciler's batch ingestion contract.
package domain

import (
	"context"
	"errors"
	"time"

	pricesourcedomain "github.com/soleworks/soleledger/internal/pricesource/domain"
	sizingdomain "github.com/soleworks/soleledger/internal/sizing/domain"
)

// RawObservation is the closed, validated shape every import path must
// produce. Unknown shapes are rejected at this boundary, not deep inside
// matching logic.
type RawObservation struct {
	ExternalProductRef string                        `json:"external_product_ref"`
	SizeValue          string                        `json:"size_value,omitempty"` // empty = no size granularity
	SizeRegion         sizingdomain.Region           `json:"size_region,omitempty"`
	PriceType          pricesourcedomain.PriceType   `json:"price_type"`
	PriceMinorUnits    int64                         `json:"price_minor_units"`
	Currency           string                        `json:"currency"`
	InStock            bool                          `json:"in_stock"`
	ObservedAt         time.Time                     `json:"observed_at"`
	SourceRef          string                        `json:"source_ref"`
	Marketplace        string                        `json:"marketplace,omitempty"`
	Metadata           map[string]any                `json:"metadata,omitempty"`
}

// RejectedRecord carries the per-record reason a row did not make it into
// the ledger. Index refers to the caller's batch ordering.
type RejectedRecord struct {
	Index     int    `json:"index"`
	SourceRef string `json:"source_ref,omitempty"`
	Reason    string `json:"reason"`
}

// IngestReport aggregates a batch outcome. One malformed record never aborts
// the rest; reconciliation is per-record transactional.
type IngestReport struct {
	Accepted          int              `json:"accepted"`
	Rejected          []RejectedRecord `json:"rejected,omitempty"`
	SkippedDuplicates int              `json:"skipped_duplicates"`
	LatestUpdated     int              `json:"latest_updated"`
	// Processed counts records handed to the store before the batch finished
	// or was canceled. Committed records stay committed on cancellation.
	Processed int `json:"processed"`
}

type Service interface {
	Ingest(ctx context.Context, sourceType pricesourcedomain.SourceType, batch []RawObservation) (IngestReport, error)
}

var (
	ErrInvalidSourceType    = errors.New("invalid_source_type")
	ErrUnsupportedPriceType = errors.New("unsupported_price_type")
	ErrUnknownCurrency      = errors.New("unknown_currency")
	// ErrStorage wraps store failures so callers can tell them apart from
	// validation rejections and decide retry policy themselves.
	ErrStorage = errors.New("storage_failure")
)
