package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	arbitragedomain "github.com/soleworks/soleledger/internal/arbitrage/domain"
	"github.com/soleworks/soleledger/internal/clock"
	"github.com/soleworks/soleledger/internal/config"
	obsmetrics "github.com/soleworks/soleledger/internal/observability/metrics"
	pricesourcedomain "github.com/soleworks/soleledger/internal/pricesource/domain"
	sizingdomain "github.com/soleworks/soleledger/internal/sizing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       pricesourcedomain.Repository
	Engine     *config.EngineConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock      clock.Clock
	repo       pricesourcedomain.Repository
	engine     *config.EngineConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) arbitragedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("arbitrage.service"),

		clock:      p.Clock,
		repo:       p.Repo,
		engine:     p.Engine,
		obsMetrics: p.ObsMetrics,
	}
}

// resaleQuote is one side of a candidate pair: the best resale price for a
// (product, standardized size) slot, ask preferred over last sale.
type resaleQuote struct {
	row    *pricesourcedomain.LatestPrice
	isAsk  bool
	stdVal int64
}

// FindOpportunities joins the latest in-stock retail prices against the
// latest in-stock resale prices on (product, standardized size) and ranks
// the profitable pairs. Stock state is re-read from the projection at query
// time; a cached flag from a prior run is never trusted.
func (s *Service) FindOpportunities(ctx context.Context, q arbitragedomain.Query) (arbitragedomain.Result, error) {
	currency := strings.ToUpper(strings.TrimSpace(q.Currency))
	if currency == "" {
		return arbitragedomain.Result{}, arbitragedomain.ErrInvalidCurrency
	}

	cfg := s.engine.Get()
	limit := q.Limit
	if limit <= 0 {
		limit = cfg.OpportunityLimit
	}
	if q.MinProfitMinorUnits == 0 {
		// Zero means "use the configured floor"; pass a negative minimum to
		// disable filtering entirely.
		q.MinProfitMinorUnits = cfg.MinProfitMinorUnits
	}

	rows, err := s.repo.ListLatestByPriceTypes(ctx, []pricesourcedomain.PriceType{
		pricesourcedomain.PriceTypeRetail,
		pricesourcedomain.PriceTypeResaleAsk,
		pricesourcedomain.PriceTypeResaleLastSale,
	})
	if err != nil {
		return arbitragedomain.Result{}, fmt.Errorf("load latest prices: %w", err)
	}

	stdValues, err := s.loadStandardizedValues(ctx, rows)
	if err != nil {
		return arbitragedomain.Result{}, fmt.Errorf("load size dictionary: %w", err)
	}

	retailByProduct := make(map[snowflake.ID][]*pricesourcedomain.LatestPrice)
	resaleByProduct := make(map[snowflake.ID]map[int64]resaleQuote)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return arbitragedomain.Result{}, err
		}
		switch row.PriceType {
		case pricesourcedomain.PriceTypeRetail:
			retailByProduct[row.ProductID] = append(retailByProduct[row.ProductID], row)
		case pricesourcedomain.PriceTypeResaleAsk, pricesourcedomain.PriceTypeResaleLastSale:
			if !row.InStock {
				continue
			}
			std, ok := stdValues[row.SizeID]
			if !ok && row.SizeID != 0 {
				continue
			}
			slots := resaleByProduct[row.ProductID]
			if slots == nil {
				slots = make(map[int64]resaleQuote)
				resaleByProduct[row.ProductID] = slots
			}
			offerQuote(slots, resaleQuote{
				row:    row,
				isAsk:  row.PriceType == pricesourcedomain.PriceTypeResaleAsk,
				stdVal: std,
			})
		}
	}

	result := arbitragedomain.Result{ComputedAt: s.clock.Now()}
	for productID, retailRows := range retailByProduct {
		slots, ok := resaleByProduct[productID]
		if !ok {
			continue
		}
		for _, retail := range retailRows {
			if !retail.InStock {
				continue
			}
			candidates, skipReason := matchCandidates(retail, slots, stdValues)
			if skipReason != "" {
				result.Skipped = append(result.Skipped, arbitragedomain.SkippedPair{
					ProductID:        productID,
					StandardizedSize: stdValues[retail.SizeID],
					Reason:           skipReason,
				})
				continue
			}
			for _, quote := range candidates {
				opp, skip := s.compute(retail, quote, currency, q, cfg)
				if skip != "" {
					result.Skipped = append(result.Skipped, arbitragedomain.SkippedPair{
						ProductID:        productID,
						StandardizedSize: quote.stdVal,
						Reason:           skip,
					})
					continue
				}
				if opp != nil {
					opp.ComputedAt = result.ComputedAt
					result.Opportunities = append(result.Opportunities, *opp)
				}
			}
		}
	}

	sort.SliceStable(result.Opportunities, func(i, j int) bool {
		a, b := result.Opportunities[i], result.Opportunities[j]
		if a.NetProfitMinorUnits != b.NetProfitMinorUnits {
			return a.NetProfitMinorUnits > b.NetProfitMinorUnits
		}
		return a.ProfitMarginPercent > b.ProfitMarginPercent
	})
	if len(result.Opportunities) > limit {
		result.Opportunities = result.Opportunities[:limit]
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordOpportunities(ctx, len(result.Opportunities))
		for _, skipped := range result.Skipped {
			s.obsMetrics.RecordSkippedPair(ctx, skipped.Reason)
		}
	}
	s.log.Info("opportunities computed",
		zap.Int("opportunities", len(result.Opportunities)),
		zap.Int("skipped", len(result.Skipped)),
		zap.String("currency", currency),
	)
	return result, nil
}

// matchCandidates selects the resale quotes a retail row can pair with. A
// retail row without size granularity matches every resale size of the
// product; apparel feeds often price without per-size rows.
func matchCandidates(
	retail *pricesourcedomain.LatestPrice,
	slots map[int64]resaleQuote,
	stdValues map[snowflake.ID]int64,
) ([]resaleQuote, string) {

	if retail.SizeID == 0 {
		candidates := make([]resaleQuote, 0, len(slots))
		for _, quote := range slots {
			candidates = append(candidates, quote)
		}
		return candidates, ""
	}

	std, ok := stdValues[retail.SizeID]
	if !ok {
		return nil, "missing_size_mapping"
	}
	quote, ok := slots[std]
	if !ok {
		return nil, "no_matching_resale_size"
	}
	return []resaleQuote{quote}, ""
}

func (s *Service) compute(
	retail *pricesourcedomain.LatestPrice,
	quote resaleQuote,
	currency string,
	q arbitragedomain.Query,
	cfg config.EngineConfig,
) (*arbitragedomain.Opportunity, string) {

	resale := quote.row
	if retail.Currency != resale.Currency {
		return nil, fmt.Sprintf("currency_mismatch:%s!=%s", retail.Currency, resale.Currency)
	}
	if retail.Currency != currency {
		// Pair is internally consistent but not in the requested unit.
		return nil, ""
	}
	if retail.PriceMinorUnits <= 0 {
		return nil, "zero_retail_price"
	}

	rate := cfg.FeeRateFor(resale.Marketplace)
	if q.FeeRates != nil {
		if override, ok := q.FeeRates[strings.ToLower(resale.Marketplace)]; ok {
			rate = override
		}
	}

	fees := int64(math.Round(float64(resale.PriceMinorUnits) * rate))
	net := resale.PriceMinorUnits - retail.PriceMinorUnits - fees
	margin := float64(net) / float64(retail.PriceMinorUnits) * 100

	if net < q.MinProfitMinorUnits || margin < q.MinMarginPercent {
		return nil, ""
	}

	return &arbitragedomain.Opportunity{
		ProductID:               retail.ProductID,
		StandardizedSize:        quote.stdVal,
		RetailPriceMinorUnits:   retail.PriceMinorUnits,
		ResalePriceMinorUnits:   resale.PriceMinorUnits,
		EstimatedFeesMinorUnits: fees,
		NetProfitMinorUnits:     net,
		ProfitMarginPercent:     margin,
		Currency:                currency,
		RetailMarketplace:       retail.Marketplace,
		ResaleMarketplace:       resale.Marketplace,
		RetailMetadata:          retail.Metadata,
	}, ""
}

// offerQuote keeps the better quote per standardized-size slot: an ask beats
// a last sale, a lower ask beats a higher one (the executable market price),
// and between last sales the fresher observation wins.
func offerQuote(slots map[int64]resaleQuote, candidate resaleQuote) {
	current, ok := slots[candidate.stdVal]
	if !ok {
		slots[candidate.stdVal] = candidate
		return
	}
	switch {
	case candidate.isAsk && !current.isAsk:
		slots[candidate.stdVal] = candidate
	case candidate.isAsk && current.isAsk:
		if candidate.row.PriceMinorUnits < current.row.PriceMinorUnits {
			slots[candidate.stdVal] = candidate
		}
	case !candidate.isAsk && !current.isAsk:
		if candidate.row.ObservedAt.After(current.row.ObservedAt) {
			slots[candidate.stdVal] = candidate
		}
	}
}

func (s *Service) loadStandardizedValues(ctx context.Context, rows []*pricesourcedomain.LatestPrice) (map[snowflake.ID]int64, error) {
	ids := make([]snowflake.ID, 0, len(rows))
	seen := make(map[snowflake.ID]bool, len(rows))
	for _, row := range rows {
		if row.SizeID == 0 || seen[row.SizeID] {
			continue
		}
		seen[row.SizeID] = true
		ids = append(ids, row.SizeID)
	}
	values := make(map[snowflake.ID]int64, len(ids))
	if len(ids) == 0 {
		return values, nil
	}

	var sizes []sizingdomain.Size
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&sizes).Error; err != nil {
		return nil, err
	}
	for _, size := range sizes {
		values[size.ID] = size.StandardizedValue
	}
	return values, nil
}
