package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/soleworks/soleledger/internal/observability/metrics"
	pricesourcedomain "github.com/soleworks/soleledger/internal/pricesource/domain"
	"github.com/soleworks/soleledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       pricesourcedomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	repo       pricesourcedomain.Repository
	obsMetrics *obsmetrics.Metrics
	keyLocks   keyedMutex
}

func NewService(p ServiceParam) pricesourcedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("pricesource.service"),

		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// RecordObservation appends the observation and advances the latest-price
// projection when the observation is the newest for its key. Re-submitting an
// already-ingested source_ref is a reported no-op, not a duplicate row.
// Writers for the same key are serialized; the projection can never end up
// older than the newest stored observation.
func (s *Service) RecordObservation(ctx context.Context, obs pricesourcedomain.PriceObservation) (pricesourcedomain.RecordResult, error) {
	if err := validateObservation(obs); err != nil {
		return pricesourcedomain.RecordResult{}, err
	}

	obs.SourceRef = strings.TrimSpace(obs.SourceRef)
	obs.Currency = strings.ToUpper(strings.TrimSpace(obs.Currency))
	obs.ObservedAt = obs.ObservedAt.UTC()
	if obs.ID == 0 {
		obs.ID = s.genID.Generate()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}

	// Cheap idempotency check before taking the key lock. The unique index
	// still catches the race where two retries arrive together.
	existing, err := s.repo.FindBySourceRef(ctx, obs.SourceType, obs.SourceRef)
	if err != nil {
		return pricesourcedomain.RecordResult{}, fmt.Errorf("lookup source ref: %w", err)
	}
	if existing != nil {
		return pricesourcedomain.RecordResult{Duplicate: true}, nil
	}

	key := pricesourcedomain.Key{
		ProductID:  obs.ProductID,
		SizeID:     obs.SizeID,
		SourceType: obs.SourceType,
		PriceType:  obs.PriceType,
	}
	unlock := s.keyLocks.Lock(lockKey(key))
	defer unlock()

	var result pricesourcedomain.RecordResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		inserted, err := repo.InsertObservation(ctx, &obs)
		if err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		if !inserted {
			result = pricesourcedomain.RecordResult{Duplicate: true}
			return nil
		}
		result.Stored = true

		latest, err := repo.FindLatest(ctx, key)
		if err != nil {
			return fmt.Errorf("load latest: %w", err)
		}
		if latest != nil && obs.ObservedAt.Before(latest.ObservedAt) {
			// Older than the projection; the ledger keeps it for history.
			return nil
		}

		now := time.Now().UTC()
		if latest == nil {
			latest = &pricesourcedomain.LatestPrice{
				ID:         s.genID.Generate(),
				ProductID:  key.ProductID,
				SizeID:     key.SizeID,
				SourceType: key.SourceType,
				PriceType:  key.PriceType,
			}
		} else if latest.PriceMinorUnits != obs.PriceMinorUnits {
			previous := latest.PriceMinorUnits
			latest.PreviousPriceMinorUnits = &previous
			result.PriceChanged = true
		}

		latest.PriceMinorUnits = obs.PriceMinorUnits
		latest.Currency = obs.Currency
		latest.InStock = obs.InStock
		latest.ObservedAt = obs.ObservedAt
		latest.Marketplace = obs.Marketplace
		latest.Metadata = obs.Metadata
		latest.UpdatedAt = now

		if err := repo.SaveLatest(ctx, latest); err != nil {
			return fmt.Errorf("save latest: %w", err)
		}
		result.NewLatest = true
		return nil
	})
	if err != nil {
		return pricesourcedomain.RecordResult{}, err
	}

	if result.NewLatest && s.obsMetrics != nil {
		s.obsMetrics.RecordLatestUpdate(ctx, string(obs.SourceType), string(obs.PriceType))
	}
	if result.PriceChanged {
		s.log.Debug("price changed",
			zap.String("product_id", obs.ProductID.String()),
			zap.String("price_type", string(obs.PriceType)),
			zap.Int64("price_minor_units", obs.PriceMinorUnits),
		)
	}
	return result, nil
}

func (s *Service) GetLatest(ctx context.Context, key pricesourcedomain.Key) (*pricesourcedomain.LatestPrice, error) {
	return s.repo.FindLatest(ctx, key)
}

// History returns the ledger for one key, newest first.
func (s *Service) History(ctx context.Context, q pricesourcedomain.HistoryQuery) (pricesourcedomain.HistoryResponse, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	items, err := s.repo.ListHistory(ctx, q)
	if err != nil {
		return pricesourcedomain.HistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(q.Limit), func(obs *pricesourcedomain.PriceObservation) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        obs.ID.String(),
			CreatedAt: obs.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > q.Limit {
		items = items[:q.Limit]
	}

	observations := make([]pricesourcedomain.PriceObservation, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		observations = append(observations, *item)
	}

	resp := pricesourcedomain.HistoryResponse{Observations: observations}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Stats(ctx context.Context) ([]pricesourcedomain.SourceStat, error) {
	return s.repo.Stats(ctx)
}

func validateObservation(obs pricesourcedomain.PriceObservation) error {
	if obs.ProductID == 0 {
		return pricesourcedomain.ErrInvalidProduct
	}
	if obs.PriceMinorUnits < 0 {
		return pricesourcedomain.ErrInvalidPrice
	}
	if strings.TrimSpace(obs.Currency) == "" {
		return pricesourcedomain.ErrInvalidCurrency
	}
	if !obs.SourceType.Valid() {
		return pricesourcedomain.ErrInvalidSourceType
	}
	if !obs.PriceType.Valid() {
		return pricesourcedomain.ErrInvalidPriceType
	}
	if strings.TrimSpace(obs.SourceRef) == "" {
		return pricesourcedomain.ErrMissingSourceRef
	}
	if obs.ObservedAt.IsZero() {
		return pricesourcedomain.ErrInvalidObservedAt
	}
	return nil
}

func lockKey(key pricesourcedomain.Key) string {
	return fmt.Sprintf("%d|%d|%s|%s", key.ProductID, key.SizeID, key.SourceType, key.PriceType)
}
