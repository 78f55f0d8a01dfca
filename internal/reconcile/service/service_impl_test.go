package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/soleworks/soleledger/internal/cache"
	catalogdomain "github.com/soleworks/soleledger/internal/catalog/domain"
	catalogrepository "github.com/soleworks/soleledger/internal/catalog/repository"
	pricesourcedomain "github.com/soleworks/soleledger/internal/pricesource/domain"
	pricesourcerepository "github.com/soleworks/soleledger/internal/pricesource/repository"
	pricesourceservice "github.com/soleworks/soleledger/internal/pricesource/service"
	reconciledomain "github.com/soleworks/soleledger/internal/reconcile/domain"
	sizingdomain "github.com/soleworks/soleledger/internal/sizing/domain"
	sizingservice "github.com/soleworks/soleledger/internal/sizing/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   reconciledomain.Service
	store pricesourcedomain.Service
	db    *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&sizingdomain.Size{},
		&catalogdomain.Product{},
		&pricesourcedomain.PriceObservation{},
		&pricesourcedomain.LatestPrice{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()

	store := pricesourceservice.NewService(pricesourceservice.ServiceParam{
		DB:    db,
		Log:   logger,
		GenID: node,
		Repo:  pricesourcerepository.New(db),
	})
	sizing := sizingservice.NewService(sizingservice.ServiceParam{
		DB:    db,
		Log:   logger,
		GenID: node,
	})
	catalog := catalogrepository.NewResolver(catalogrepository.ResolverParam{
		DB:    db,
		GenID: node,
	})

	svc := NewService(ServiceParam{
		Log:           logger,
		Store:         store,
		Sizing:        sizing,
		Catalog:       catalog,
		ResolverCache: cache.NewIngestResolverCache(),
	})
	return fixture{svc: svc, store: store, db: db}
}

func rawObservation(ref string, observedAt time.Time, price int64) reconciledomain.RawObservation {
	return reconciledomain.RawObservation{
		ExternalProductRef: "sku-jordan-1",
		SizeValue:          "9",
		SizeRegion:         sizingdomain.RegionUS,
		PriceType:          pricesourcedomain.PriceTypeResaleAsk,
		PriceMinorUnits:    price,
		Currency:           "EUR",
		InStock:            true,
		ObservedAt:         observedAt,
		SourceRef:          ref,
		Marketplace:        "stockx",
	}
}

func TestIngest_InvalidSourceType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), "scraper", nil)
	assert.ErrorIs(t, err, reconciledomain.ErrInvalidSourceType)
}

func TestIngest_AcceptsAndProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	report, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeResaleAPI, []reconciledomain.RawObservation{
		rawObservation("ref-1", now, 15000),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.LatestUpdated)
	assert.Empty(t, report.Rejected)

	var obs []pricesourcedomain.PriceObservation
	require.NoError(t, f.db.Find(&obs).Error)
	require.Len(t, obs, 1)
	assert.Equal(t, int64(15000), obs[0].PriceMinorUnits)
	assert.NotZero(t, obs[0].ProductID)
	assert.NotZero(t, obs[0].SizeID)
}

func TestIngest_PerRecordValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bad := func(mutate func(*reconciledomain.RawObservation)) reconciledomain.RawObservation {
		raw := rawObservation("ref-bad", now, 15000)
		mutate(&raw)
		return raw
	}
	batch := []reconciledomain.RawObservation{
		rawObservation("ref-good", now, 15000),
		bad(func(r *reconciledomain.RawObservation) { r.SourceRef = "ref-currency"; r.Currency = "XXX" }),
		bad(func(r *reconciledomain.RawObservation) { r.SourceRef = "ref-price"; r.PriceMinorUnits = -1 }),
		bad(func(r *reconciledomain.RawObservation) { r.SourceRef = "ref-type"; r.PriceType = pricesourcedomain.PriceTypeRetail }),
		bad(func(r *reconciledomain.RawObservation) { r.SourceRef = "ref-product"; r.ExternalProductRef = "" }),
		bad(func(r *reconciledomain.RawObservation) { r.SourceRef = "ref-size"; r.SizeValue = "banana" }),
		bad(func(r *reconciledomain.RawObservation) { r.SourceRef = "ref-observed"; r.ObservedAt = time.Time{} }),
	}

	report, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeResaleAPI, batch)
	require.NoError(t, err, "validation rejections are per record, not batch failures")
	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Rejected, 6)

	reasons := make(map[string]string, len(report.Rejected))
	for _, rejected := range report.Rejected {
		reasons[rejected.SourceRef] = rejected.Reason
	}
	assert.Equal(t, reconciledomain.ErrUnknownCurrency.Error(), reasons["ref-currency"])
	assert.Equal(t, pricesourcedomain.ErrInvalidPrice.Error(), reasons["ref-price"])
	assert.Equal(t, reconciledomain.ErrUnsupportedPriceType.Error(), reasons["ref-type"])
	assert.Equal(t, catalogdomain.ErrInvalidExternalRef.Error(), reasons["ref-product"])
	assert.Equal(t, sizingdomain.ErrUnparseableSize.Error(), reasons["ref-size"])
	assert.Equal(t, pricesourcedomain.ErrInvalidObservedAt.Error(), reasons["ref-observed"])
}

func TestIngest_RetailFeedPriceTypeGate(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	retail := rawObservation("ref-retail", now, 9900)
	retail.PriceType = pricesourcedomain.PriceTypeRetail
	ask := rawObservation("ref-ask", now, 15000)

	report, err := f.svc.Ingest(context.Background(), pricesourcedomain.SourceTypeRetailFeed, []reconciledomain.RawObservation{retail, ask})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "ref-ask", report.Rejected[0].SourceRef)
}

func TestIngest_InBatchDedupe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	older := rawObservation("ref-dup", base, 14000)
	newer := rawObservation("ref-dup", base.Add(time.Minute), 15000)

	report, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeResaleAPI, []reconciledomain.RawObservation{older, newer})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.SkippedDuplicates)

	var obs []pricesourcedomain.PriceObservation
	require.NoError(t, f.db.Find(&obs).Error)
	require.Len(t, obs, 1)
	assert.Equal(t, int64(15000), obs[0].PriceMinorUnits, "the later sighting wins the in-batch dedupe")
}

func TestIngest_ReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	batch := []reconciledomain.RawObservation{rawObservation("ref-1", now, 15000)}

	first, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeResaleAPI, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Accepted)

	second, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeResaleAPI, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, 1, second.SkippedDuplicates)

	var count int64
	require.NoError(t, f.db.Model(&pricesourcedomain.PriceObservation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIngest_OutOfOrderBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	// Feed delivers newest first; the projection must still end on the
	// newest observation.
	report, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeResaleAPI, []reconciledomain.RawObservation{
		rawObservation("ref-new", base.Add(10*time.Minute), 16000),
		rawObservation("ref-mid", base.Add(5*time.Minute), 15000),
		rawObservation("ref-old", base, 14000),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Accepted)

	var latest []pricesourcedomain.LatestPrice
	require.NoError(t, f.db.Find(&latest).Error)
	require.Len(t, latest, 1)
	assert.Equal(t, int64(16000), latest[0].PriceMinorUnits)
}

func TestIngest_Cancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeResaleAPI, []reconciledomain.RawObservation{
		rawObservation("ref-1", time.Now().UTC(), 15000),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Accepted)
}

func TestIngest_ManualGeneratesSourceRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := rawObservation("", time.Now().UTC(), 15000)
	report, err := f.svc.Ingest(ctx, pricesourcedomain.SourceTypeManual, []reconciledomain.RawObservation{raw})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)

	var obs []pricesourcedomain.PriceObservation
	require.NoError(t, f.db.Find(&obs).Error)
	require.Len(t, obs, 1)
	assert.True(t, strings.HasPrefix(obs[0].SourceRef, "manual-"))
}

func TestIngest_MissingSourceRefRejectedForFeeds(t *testing.T) {
	f := newFixture(t)

	raw := rawObservation("", time.Now().UTC(), 15000)
	report, err := f.svc.Ingest(context.Background(), pricesourcedomain.SourceTypeResaleAPI, []reconciledomain.RawObservation{raw})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, pricesourcedomain.ErrMissingSourceRef.Error(), report.Rejected[0].Reason)
}

// -- Mocks --

type storeMock struct {
	mock.Mock
}

func (m *storeMock) RecordObservation(ctx context.Context, obs pricesourcedomain.PriceObservation) (pricesourcedomain.RecordResult, error) {
	args := m.Called(ctx, obs)
	return args.Get(0).(pricesourcedomain.RecordResult), args.Error(1)
}

func (m *storeMock) GetLatest(context.Context, pricesourcedomain.Key) (*pricesourcedomain.LatestPrice, error) {
	return nil, nil
}

func (m *storeMock) History(context.Context, pricesourcedomain.HistoryQuery) (pricesourcedomain.HistoryResponse, error) {
	return pricesourcedomain.HistoryResponse{}, nil
}

func (m *storeMock) Stats(context.Context) ([]pricesourcedomain.SourceStat, error) {
	return nil, nil
}

func TestIngest_StorageFailureSurfaces(t *testing.T) {
	f := newFixture(t)

	store := &storeMock{}
	store.On("RecordObservation", mock.Anything, mock.Anything).
		Return(pricesourcedomain.RecordResult{}, errors.New("connection reset"))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()
	svc := NewService(ServiceParam{
		Log:   logger,
		Store: store,
		Sizing: sizingservice.NewService(sizingservice.ServiceParam{
			DB:    f.db,
			Log:   logger,
			GenID: node,
		}),
		Catalog: catalogrepository.NewResolver(catalogrepository.ResolverParam{
			DB:    f.db,
			GenID: node,
		}),
	})

	report, err := svc.Ingest(context.Background(), pricesourcedomain.SourceTypeResaleAPI, []reconciledomain.RawObservation{
		rawObservation("ref-1", time.Now().UTC(), 15000),
	})
	assert.ErrorIs(t, err, reconciledomain.ErrStorage)
	assert.Equal(t, 0, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, reconciledomain.ErrStorage.Error(), report.Rejected[0].Reason)
	store.AssertExpectations(t)
}
