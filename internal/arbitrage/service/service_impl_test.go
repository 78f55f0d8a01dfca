package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	arbitragedomain "github.com/soleworks/soleledger/internal/arbitrage/domain"
	"github.com/soleworks/soleledger/internal/clock"
	"github.com/soleworks/soleledger/internal/config"
	pricesourcedomain "github.com/soleworks/soleledger/internal/pricesource/domain"
	pricesourcerepository "github.com/soleworks/soleledger/internal/pricesource/repository"
	sizingdomain "github.com/soleworks/soleledger/internal/sizing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   arbitragedomain.Service
	db    *gorm.DB
	genID *snowflake.Node
}

func newFixture(t *testing.T, engine config.EngineConfig) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&sizingdomain.Size{}, &pricesourcedomain.LatestPrice{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(testTime),
		Repo:   pricesourcerepository.New(db),
		Engine: config.NewStaticEngineConfigHolder(engine),
	})
	return &fixture{svc: svc, db: db, genID: node}
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		FeeRates:               map[string]float64{"stockx": 0.10},
		DefaultFeeRate:         0.12,
		DeadStockThresholdDays: 90,
		MinProfitMinorUnits:    1,
		OpportunityLimit:       50,
	}
}

func (f *fixture) addSize(t *testing.T, raw string, region sizingdomain.Region, std int64) snowflake.ID {
	t.Helper()
	size := sizingdomain.Size{
		ID:                f.genID.Generate(),
		RawValue:          raw,
		Region:            region,
		StandardizedValue: std,
		CreatedAt:         testTime,
	}
	require.NoError(t, f.db.Create(&size).Error)
	return size.ID
}

type latestOpt func(*pricesourcedomain.LatestPrice)

func outOfStock() latestOpt {
	return func(lp *pricesourcedomain.LatestPrice) { lp.InStock = false }
}

func inCurrency(currency string) latestOpt {
	return func(lp *pricesourcedomain.LatestPrice) { lp.Currency = currency }
}

func onMarketplace(name string) latestOpt {
	return func(lp *pricesourcedomain.LatestPrice) { lp.Marketplace = name }
}

func observedAt(at time.Time) latestOpt {
	return func(lp *pricesourcedomain.LatestPrice) { lp.ObservedAt = at }
}

func (f *fixture) addLatest(t *testing.T, productID, sizeID snowflake.ID, priceType pricesourcedomain.PriceType, price int64, opts ...latestOpt) {
	t.Helper()
	sourceType := pricesourcedomain.SourceTypeResaleAPI
	marketplace := "stockx"
	if priceType == pricesourcedomain.PriceTypeRetail {
		sourceType = pricesourcedomain.SourceTypeRetailFeed
		marketplace = "zalando"
	}
	row := pricesourcedomain.LatestPrice{
		ID:              f.genID.Generate(),
		ProductID:       productID,
		SizeID:          sizeID,
		SourceType:      sourceType,
		PriceType:       priceType,
		PriceMinorUnits: price,
		Currency:        "EUR",
		InStock:         true,
		ObservedAt:      testTime.Add(-time.Hour),
		Marketplace:     marketplace,
		UpdatedAt:       testTime,
	}
	for _, opt := range opts {
		opt(&row)
	}
	require.NoError(t, f.db.Create(&row).Error)
}

func TestFindOpportunities_ProfitComputation(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, 15000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)

	opp := result.Opportunities[0]
	assert.Equal(t, product, opp.ProductID)
	assert.Equal(t, int64(4200), opp.StandardizedSize)
	assert.Equal(t, int64(10000), opp.RetailPriceMinorUnits)
	assert.Equal(t, int64(15000), opp.ResalePriceMinorUnits)
	assert.Equal(t, int64(1500), opp.EstimatedFeesMinorUnits)
	assert.Equal(t, int64(3500), opp.NetProfitMinorUnits)
	assert.InDelta(t, 35.0, opp.ProfitMarginPercent, 1e-9)
	assert.Equal(t, testTime, opp.ComputedAt)
}

func TestFindOpportunities_CrossRegionSizeMatch(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)
	uk85 := f.addSize(t, "8.5", sizingdomain.RegionUK, 4200)

	// Retail priced in US sizing, resale in UK sizing; same physical shoe.
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, uk85, pricesourcedomain.PriceTypeResaleAsk, 15000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, int64(4200), result.Opportunities[0].StandardizedSize)
}

func TestFindOpportunities_OutOfStockExcluded(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	retailOut := f.genID.Generate()
	f.addLatest(t, retailOut, us9, pricesourcedomain.PriceTypeRetail, 10000, outOfStock())
	f.addLatest(t, retailOut, us9, pricesourcedomain.PriceTypeResaleAsk, 15000)

	resaleOut := f.genID.Generate()
	f.addLatest(t, resaleOut, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, resaleOut, us9, pricesourcedomain.PriceTypeResaleAsk, 15000, outOfStock())

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	assert.Empty(t, result.Opportunities, "either side out of stock kills the pair")
}

func TestFindOpportunities_CurrencyMismatchSkipped(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000, inCurrency("USD"))
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, 15000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	assert.Empty(t, result.Opportunities)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "currency_mismatch:USD!=EUR", result.Skipped[0].Reason)
}

func TestFindOpportunities_SizelessRetailMatchesAllSizes(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)
	us10 := f.addSize(t, "10", sizingdomain.RegionUS, 4300)

	f.addLatest(t, product, 0, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, 15000)
	f.addLatest(t, product, us10, pricesourcedomain.PriceTypeResaleAsk, 16000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 2)
	// Ranked by net profit: the 16000 ask nets more.
	assert.Equal(t, int64(4300), result.Opportunities[0].StandardizedSize)
	assert.Equal(t, int64(4200), result.Opportunities[1].StandardizedSize)
}

func TestFindOpportunities_AskPreferredOverLastSale(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleLastSale, 20000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, 15000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, int64(15000), result.Opportunities[0].ResalePriceMinorUnits,
		"an executable ask beats a historical last sale")
}

func TestFindOpportunities_RankingAndLimit(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	prices := []int64{13000, 17000, 15000}
	for _, resale := range prices {
		product := f.genID.Generate()
		f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
		f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, resale)
	}

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 3)
	for i := 1; i < len(result.Opportunities); i++ {
		assert.GreaterOrEqual(t,
			result.Opportunities[i-1].NetProfitMinorUnits,
			result.Opportunities[i].NetProfitMinorUnits)
	}

	limited, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited.Opportunities, 1)
	assert.Equal(t, result.Opportunities[0], limited.Opportunities[0])
}

func TestFindOpportunities_MinProfitDefaultsFromConfig(t *testing.T) {
	engine := testEngineConfig()
	engine.MinProfitMinorUnits = 4000
	f := newFixture(t, engine)
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	// Nets 3500, below the configured 4000 floor.
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, 15000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	assert.Empty(t, result.Opportunities)

	// An explicit negative minimum disables the floor.
	unfiltered, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR", MinProfitMinorUnits: -1})
	require.NoError(t, err)
	assert.Len(t, unfiltered.Opportunities, 1)
}

func TestFindOpportunities_FeeRateOverride(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, 15000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{
		Currency: "EUR",
		FeeRates: map[string]float64{"stockx": 0.20},
	})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, int64(3000), result.Opportunities[0].EstimatedFeesMinorUnits)
	assert.Equal(t, int64(2000), result.Opportunities[0].NetProfitMinorUnits)
}

func TestFindOpportunities_DefaultFeeRateForUnknownMarketplace(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleAsk, 15000, onMarketplace("goat"))

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)
	// 12% default, rounded to the nearest minor unit.
	assert.Equal(t, int64(1800), result.Opportunities[0].EstimatedFeesMinorUnits)
}

func TestFindOpportunities_NoMatchingResaleSize(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)
	us10 := f.addSize(t, "10", sizingdomain.RegionUS, 4300)

	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us10, pricesourcedomain.PriceTypeResaleAsk, 15000)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	assert.Empty(t, result.Opportunities)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "no_matching_resale_size", result.Skipped[0].Reason)
}

func TestFindOpportunities_RequiresCurrency(t *testing.T) {
	f := newFixture(t, testEngineConfig())

	_, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{})
	assert.ErrorIs(t, err, arbitragedomain.ErrInvalidCurrency)
}

func TestFindOpportunities_FresherLastSaleWins(t *testing.T) {
	f := newFixture(t, testEngineConfig())
	product := f.genID.Generate()
	us9 := f.addSize(t, "9", sizingdomain.RegionUS, 4200)

	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeRetail, 10000)
	f.addLatest(t, product, us9, pricesourcedomain.PriceTypeResaleLastSale, 14000, observedAt(testTime.Add(-2*time.Hour)))

	// Same slot via a second source type row is impossible, so simulate a
	// fresher last sale on another marketplace.
	fresh := pricesourcedomain.LatestPrice{
		ID:              f.genID.Generate(),
		ProductID:       product,
		SizeID:          us9,
		SourceType:      pricesourcedomain.SourceTypeManual,
		PriceType:       pricesourcedomain.PriceTypeResaleLastSale,
		PriceMinorUnits: 16000,
		Currency:        "EUR",
		InStock:         true,
		ObservedAt:      testTime.Add(-time.Minute),
		Marketplace:     "goat",
		UpdatedAt:       testTime,
	}
	require.NoError(t, f.db.Create(&fresh).Error)

	result, err := f.svc.FindOpportunities(context.Background(), arbitragedomain.Query{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, int64(16000), result.Opportunities[0].ResalePriceMinorUnits)
}
