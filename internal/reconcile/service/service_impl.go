package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	catalogdomain "github.com/soleworks/soleledger/internal/catalog/domain"
	"github.com/soleworks/soleledger/internal/cache"
	obsmetrics "github.com/soleworks/soleledger/internal/observability/metrics"
	pricesourcedomain "github.com/soleworks/soleledger/internal/pricesource/domain"
	reconciledomain "github.com/soleworks/soleledger/internal/reconcile/domain"
	sizingdomain "github.com/soleworks/soleledger/internal/sizing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// knownCurrencies is the set the business actually trades in. Anything else
// is a per-record validation error, never a silent same-unit assumption.
var knownCurrencies = map[string]bool{
	"EUR": true,
	"USD": true,
	"GBP": true,
	"JPY": true,
	"CHF": true,
	"PLN": true,
}

type ServiceParam struct {
	fx.In

	Log           *zap.Logger
	Store         pricesourcedomain.Service
	Sizing        sizingdomain.Service
	Catalog       catalogdomain.Resolver
	ResolverCache cache.IngestResolverCache `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	log *zap.Logger

	store         pricesourcedomain.Service
	sizing        sizingdomain.Service
	catalog       catalogdomain.Resolver
	resolverCache cache.IngestResolverCache
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p ServiceParam) reconciledomain.Service {
	return &Service{
		log: p.Log.Named("reconcile.service"),

		store:         p.Store,
		sizing:        p.Sizing,
		catalog:       p.Catalog,
		resolverCache: p.ResolverCache,
		obsMetrics:    p.ObsMetrics,
	}
}

// Ingest validates, deduplicates and stores one source's batch. Records are
// processed in ascending observed_at order so latest-price semantics hold
// even when the upstream feed delivers out of order. On cancellation,
// records already committed remain committed and the report says how far the
// batch got.
func (s *Service) Ingest(
	ctx context.Context,
	sourceType pricesourcedomain.SourceType,
	batch []reconciledomain.RawObservation,
) (reconciledomain.IngestReport, error) {

	var report reconciledomain.IngestReport
	if !sourceType.Valid() {
		return report, reconciledomain.ErrInvalidSourceType
	}

	records := dedupeBatch(batch, &report)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].raw.ObservedAt.Before(records[j].raw.ObservedAt)
	})

	var storageErrs []error
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			// Partial batch: everything committed so far stays committed.
			return report, err
		}

		obs, err := s.buildObservation(ctx, sourceType, record.raw)
		if err != nil {
			if errors.Is(err, reconciledomain.ErrStorage) {
				storageErrs = append(storageErrs, err)
			}
			s.reject(&report, record.index, record.raw.SourceRef, err)
			continue
		}

		report.Processed++
		result, err := s.store.RecordObservation(ctx, *obs)
		if err != nil {
			if isValidation(err) {
				s.reject(&report, record.index, obs.SourceRef, err)
				continue
			}
			storageErrs = append(storageErrs, fmt.Errorf("record %d: %w", record.index, err))
			s.reject(&report, record.index, obs.SourceRef, reconciledomain.ErrStorage)
			continue
		}

		switch {
		case result.Duplicate:
			report.SkippedDuplicates++
			s.recordOutcome(ctx, sourceType, "deduplicated")
		default:
			report.Accepted++
			s.recordOutcome(ctx, sourceType, "accepted")
			if result.NewLatest {
				report.LatestUpdated++
			}
		}
	}

	s.log.Info("batch ingested",
		zap.String("source_type", string(sourceType)),
		zap.Int("accepted", report.Accepted),
		zap.Int("rejected", len(report.Rejected)),
		zap.Int("skipped_duplicates", report.SkippedDuplicates),
		zap.Int("latest_updated", report.LatestUpdated),
	)

	if len(storageErrs) > 0 {
		return report, fmt.Errorf("%w: %w", reconciledomain.ErrStorage, errors.Join(storageErrs...))
	}
	return report, nil
}

type indexedRaw struct {
	index int
	raw   reconciledomain.RawObservation
}

// dedupeBatch drops in-batch source_ref repeats, keeping the sighting with
// the latest observed_at. Upstream feeds occasionally emit the same external
// id twice in one file.
func dedupeBatch(batch []reconciledomain.RawObservation, report *reconciledomain.IngestReport) []indexedRaw {
	byRef := make(map[string]int, len(batch))
	records := make([]indexedRaw, 0, len(batch))

	for i, raw := range batch {
		ref := strings.TrimSpace(raw.SourceRef)
		if ref == "" {
			records = append(records, indexedRaw{index: i, raw: raw})
			continue
		}
		prev, seen := byRef[ref]
		if !seen {
			byRef[ref] = len(records)
			records = append(records, indexedRaw{index: i, raw: raw})
			continue
		}
		report.SkippedDuplicates++
		if raw.ObservedAt.After(records[prev].raw.ObservedAt) {
			records[prev] = indexedRaw{index: i, raw: raw}
		}
	}
	return records
}

func (s *Service) buildObservation(
	ctx context.Context,
	sourceType pricesourcedomain.SourceType,
	raw reconciledomain.RawObservation,
) (*pricesourcedomain.PriceObservation, error) {

	if raw.PriceMinorUnits < 0 {
		return nil, pricesourcedomain.ErrInvalidPrice
	}
	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if !knownCurrencies[currency] {
		return nil, reconciledomain.ErrUnknownCurrency
	}
	if !raw.PriceType.Valid() || !priceTypeAllowed(sourceType, raw.PriceType) {
		return nil, reconciledomain.ErrUnsupportedPriceType
	}
	if raw.ObservedAt.IsZero() {
		return nil, pricesourcedomain.ErrInvalidObservedAt
	}

	sourceRef := strings.TrimSpace(raw.SourceRef)
	if sourceRef == "" {
		if sourceType != pricesourcedomain.SourceTypeManual {
			return nil, pricesourcedomain.ErrMissingSourceRef
		}
		// Manual entries have no external system to key on.
		sourceRef = "manual-" + uuid.NewString()
	}

	productID, err := s.resolveProduct(ctx, raw.ExternalProductRef)
	if err != nil {
		return nil, err
	}

	var sizeID snowflake.ID
	if strings.TrimSpace(raw.SizeValue) != "" {
		size, err := s.resolveSize(ctx, raw.SizeRegion, raw.SizeValue)
		if err != nil {
			return nil, err
		}
		sizeID = size.ID
	}

	obs := &pricesourcedomain.PriceObservation{
		ProductID:       productID,
		SizeID:          sizeID,
		SourceType:      sourceType,
		PriceType:       raw.PriceType,
		PriceMinorUnits: raw.PriceMinorUnits,
		Currency:        currency,
		InStock:         raw.InStock,
		ObservedAt:      raw.ObservedAt.UTC(),
		SourceRef:       sourceRef,
		Marketplace:     strings.ToLower(strings.TrimSpace(raw.Marketplace)),
	}
	if raw.Metadata != nil {
		obs.Metadata = datatypes.JSONMap(raw.Metadata)
	}
	return obs, nil
}

func (s *Service) resolveProduct(ctx context.Context, externalRef string) (snowflake.ID, error) {
	ref := strings.TrimSpace(externalRef)
	if ref == "" {
		return 0, catalogdomain.ErrInvalidExternalRef
	}
	if s.resolverCache != nil {
		if id, ok := s.resolverCache.GetProduct(ref); ok {
			return id, nil
		}
	}
	id, err := s.catalog.ResolveProduct(ctx, ref)
	if err != nil {
		if errors.Is(err, catalogdomain.ErrInvalidExternalRef) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: resolve product: %w", reconciledomain.ErrStorage, err)
	}
	if s.resolverCache != nil {
		s.resolverCache.SetProduct(ref, id)
	}
	return id, nil
}

func (s *Service) resolveSize(ctx context.Context, region sizingdomain.Region, raw string) (*sizingdomain.Size, error) {
	if s.resolverCache != nil {
		if size, ok := s.resolverCache.GetSize(region, raw); ok {
			return size, nil
		}
	}
	size, err := s.sizing.Resolve(ctx, raw, region)
	if err != nil {
		if errors.Is(err, sizingdomain.ErrUnparseableSize) || errors.Is(err, sizingdomain.ErrUnknownRegion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resolve size: %w", reconciledomain.ErrStorage, err)
	}
	if s.resolverCache != nil {
		s.resolverCache.SetSize(region, raw, size)
	}
	return size, nil
}

func (s *Service) reject(report *reconciledomain.IngestReport, index int, sourceRef string, err error) {
	report.Rejected = append(report.Rejected, reconciledomain.RejectedRecord{
		Index:     index,
		SourceRef: strings.TrimSpace(sourceRef),
		Reason:    err.Error(),
	})
}

func (s *Service) recordOutcome(ctx context.Context, sourceType pricesourcedomain.SourceType, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordObservationIngested(ctx, string(sourceType), outcome)
}

func priceTypeAllowed(sourceType pricesourcedomain.SourceType, priceType pricesourcedomain.PriceType) bool {
	switch sourceType {
	case pricesourcedomain.SourceTypeRetailFeed:
		return priceType == pricesourcedomain.PriceTypeRetail
	case pricesourcedomain.SourceTypeResaleAPI:
		return priceType == pricesourcedomain.PriceTypeResaleBid ||
			priceType == pricesourcedomain.PriceTypeResaleAsk ||
			priceType == pricesourcedomain.PriceTypeResaleLastSale
	case pricesourcedomain.SourceTypeManual:
		return true
	}
	return false
}

func isValidation(err error) bool {
	return errors.Is(err, pricesourcedomain.ErrInvalidProduct) ||
		errors.Is(err, pricesourcedomain.ErrInvalidPrice) ||
		errors.Is(err, pricesourcedomain.ErrInvalidCurrency) ||
		errors.Is(err, pricesourcedomain.ErrInvalidSourceType) ||
		errors.Is(err, pricesourcedomain.ErrInvalidPriceType) ||
		errors.Is(err, pricesourcedomain.ErrMissingSourceRef) ||
		errors.Is(err, pricesourcedomain.ErrInvalidObservedAt)
}
