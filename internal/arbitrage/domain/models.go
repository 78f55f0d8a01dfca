// Package domain defines arbitrage opportunities derived from the price ledger.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Opportunity is a matched retail/resale pair whose resale value beats retail
// cost plus fees. Derived data: recomputed on demand, never a source of truth.
type Opportunity struct {
	ProductID snowflake.ID `json:"product_id"`
	// StandardizedSize is the EU-scale size in hundredths shared by both
	// sides; zero when the retail side priced the product without sizes.
	StandardizedSize        int64             `json:"standardized_size"`
	RetailPriceMinorUnits   int64             `json:"retail_price_minor_units"`
	ResalePriceMinorUnits   int64             `json:"resale_price_minor_units"`
	EstimatedFeesMinorUnits int64             `json:"estimated_fees_minor_units"`
	NetProfitMinorUnits     int64             `json:"net_profit_minor_units"`
	ProfitMarginPercent     float64           `json:"profit_margin_percent"`
	Currency                string            `json:"currency"`
	RetailMarketplace       string            `json:"retail_marketplace,omitempty"`
	ResaleMarketplace       string            `json:"resale_marketplace,omitempty"`
	RetailMetadata          datatypes.JSONMap `json:"retail_metadata,omitempty"` // affiliate link etc.
	ComputedAt              time.Time         `json:"computed_at"`
}

// SkippedPair records why a candidate pair produced no opportunity. Returned
// alongside results so a zero-result query is distinguishable from a failed
// one.
type SkippedPair struct {
	ProductID        snowflake.ID `json:"product_id"`
	StandardizedSize int64        `json:"standardized_size"`
	Reason           string       `json:"reason"`
}

// Query parameterizes a matching run. Fee rates arrive as data so fee
// structure changes never require recompilation.
type Query struct {
	MinProfitMinorUnits int64
	MinMarginPercent    float64
	Currency            string
	// FeeRates overrides the configured per-marketplace rates when non-nil.
	FeeRates map[string]float64
	Limit    int
}

type Result struct {
	Opportunities []Opportunity `json:"opportunities"`
	Skipped       []SkippedPair `json:"skipped,omitempty"`
	ComputedAt    time.Time     `json:"computed_at"`
}

type Service interface {
	FindOpportunities(ctx context.Context, q Query) (Result, error)
}

var ErrInvalidCurrency = errors.New("invalid_currency")
