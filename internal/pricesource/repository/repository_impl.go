package repository

import (
	"context"
	"errors"

	pricesourcedomain "github.com/soleworks/soleledger/internal/pricesource/domain"
	"github.com/soleworks/soleledger/pkg/db/option"
	"github.com/soleworks/soleledger/pkg/db/pagination"
	"github.com/soleworks/soleledger/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db           *gorm.DB
	observations repository.Repository[pricesourcedomain.PriceObservation]
	latest       repository.Repository[pricesourcedomain.LatestPrice]
}

func New(db *gorm.DB) pricesourcedomain.Repository {
	return &repo{
		db:           db,
		observations: repository.ProvideStore[pricesourcedomain.PriceObservation](db),
		latest:       repository.ProvideStore[pricesourcedomain.LatestPrice](db),
	}
}

func (r *repo) WithTrx(tx *gorm.DB) pricesourcedomain.Repository {
	return New(tx)
}

// InsertObservation appends to the ledger. The conflict clause makes retried
// ingestion a no-op instead of a duplicate row; RowsAffected tells the two
// cases apart.
func (r *repo) InsertObservation(ctx context.Context, obs *pricesourcedomain.PriceObservation) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_type"}, {Name: "source_ref"}},
			DoNothing: true,
		}).
		Create(obs)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindBySourceRef(ctx context.Context, sourceType pricesourcedomain.SourceType, sourceRef string) (*pricesourcedomain.PriceObservation, error) {
	return r.observations.FindOne(ctx, &pricesourcedomain.PriceObservation{
		SourceType: sourceType,
		SourceRef:  sourceRef,
	})
}

func (r *repo) FindLatest(ctx context.Context, key pricesourcedomain.Key) (*pricesourcedomain.LatestPrice, error) {
	var row pricesourcedomain.LatestPrice
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND size_id = ? AND source_type = ? AND price_type = ?",
			key.ProductID, key.SizeID, key.SourceType, key.PriceType).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repo) SaveLatest(ctx context.Context, latest *pricesourcedomain.LatestPrice) error {
	return r.db.WithContext(ctx).Save(latest).Error
}

func (r *repo) ListHistory(ctx context.Context, q pricesourcedomain.HistoryQuery) ([]*pricesourcedomain.PriceObservation, error) {
	filter := &pricesourcedomain.PriceObservation{
		ProductID:  q.Key.ProductID,
		SizeID:     q.Key.SizeID,
		SourceType: q.Key.SourceType,
		PriceType:  q.Key.PriceType,
	}
	return r.observations.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: q.PageToken,
			PageSize:  q.Limit,
		}),
		option.WithOrder("observed_at DESC, id DESC"),
	)
}

func (r *repo) ListLatestByPriceTypes(ctx context.Context, priceTypes []pricesourcedomain.PriceType) ([]*pricesourcedomain.LatestPrice, error) {
	var rows []*pricesourcedomain.LatestPrice
	err := r.db.WithContext(ctx).
		Where("price_type IN ?", priceTypes).
		Find(&rows).Error
	return rows, err
}

func (r *repo) Stats(ctx context.Context) ([]pricesourcedomain.SourceStat, error) {
	var stats []pricesourcedomain.SourceStat
	err := r.db.WithContext(ctx).Raw(
		`SELECT
			source_type,
			price_type,
			COUNT(*) AS observations,
			COUNT(DISTINCT product_id) AS unique_products,
			MIN(price_minor_units) AS min_price_minor,
			MAX(price_minor_units) AS max_price_minor,
			AVG(price_minor_units) AS avg_price_minor,
			SUM(CASE WHEN in_stock THEN 1 ELSE 0 END) AS in_stock_observed
		 FROM price_observations
		 GROUP BY source_type, price_type
		 ORDER BY source_type, price_type`,
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
