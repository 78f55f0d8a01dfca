package service

import (
	"math"
	"sort"
	"time"

	"github.com/soleworks/soleledger/internal/config"
	invdomain "github.com/soleworks/soleledger/internal/invanalytics/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log    *zap.Logger
	Engine *config.EngineConfigHolder
}

type Service struct {
	log    *zap.Logger
	engine *config.EngineConfigHolder
}

func NewService(p ServiceParam) invdomain.Service {
	return &Service{
		log:    p.Log.Named("invanalytics.service"),
		engine: p.Engine,
	}
}

// Compute derives shelf life, ROI, profit per day and the dead-stock flag for
// a single unit. asOf is injected so the same inputs always yield the same
// outputs; there is no wall-clock read here.
func (s *Service) Compute(unit invdomain.HeldUnit, asOf time.Time, opts invdomain.ComputeOptions) (invdomain.HeldUnitAnalytics, error) {
	if err := validateUnit(unit, asOf); err != nil {
		return invdomain.HeldUnitAnalytics{}, err
	}

	end := asOf
	if unit.Status == invdomain.UnitStatusSold {
		end = *unit.SoldAt
	}
	shelfLife := int(end.Sub(unit.AcquiredAt).Hours() / 24)

	threshold := opts.DeadStockThresholdDays
	if threshold <= 0 {
		threshold = s.engine.Get().DeadStockThresholdDays
	}

	analytics := invdomain.HeldUnitAnalytics{
		ShelfLifeDays: shelfLife,
		IsDeadStock:   unit.Status == invdomain.UnitStatusInStock && shelfLife > threshold,
	}

	profit, ok := profitBasis(unit, opts)
	if !ok {
		return analytics, nil
	}

	if unit.AcquisitionPriceMinorUnits > 0 {
		roi := float64(profit) / float64(unit.AcquisitionPriceMinorUnits) * 100
		analytics.ROIPercent = &roi
	}

	// A same-day flip still occupied shelf space, so the denominator never
	// drops below one day.
	days := shelfLife
	if days < 1 {
		days = 1
	}
	ppd := int64(math.Round(float64(profit) / float64(days)))
	analytics.ProfitPerDayMinorUnits = &ppd

	return analytics, nil
}

// Analyze computes every unit's metrics and ranks them by profit per shelf
// day descending, so the top of the list is what to relist or reprice first.
// Units without a profit basis sink to the bottom. Aggregates count dead
// stock and the acquisition capital locked inside it.
func (s *Service) Analyze(units []invdomain.HeldUnit, asOf time.Time, opts invdomain.ComputeOptions) (invdomain.DeadStockReport, error) {
	report := invdomain.DeadStockReport{Units: make([]invdomain.UnitReport, 0, len(units))}
	for _, unit := range units {
		analytics, err := s.Compute(unit, asOf, opts)
		if err != nil {
			return invdomain.DeadStockReport{}, err
		}
		if analytics.IsDeadStock {
			report.DeadCount++
			report.LockedCapitalMinorUnits += unit.AcquisitionPriceMinorUnits
		}
		report.Units = append(report.Units, invdomain.UnitReport{Unit: unit, Analytics: analytics})
	}

	sort.SliceStable(report.Units, func(i, j int) bool {
		a, b := report.Units[i].Analytics.ProfitPerDayMinorUnits, report.Units[j].Analytics.ProfitPerDayMinorUnits
		switch {
		case a != nil && b != nil:
			return *a > *b
		case a != nil:
			return true
		default:
			return false
		}
	})

	s.log.Debug("inventory analyzed",
		zap.Int("units", len(report.Units)),
		zap.Int("dead", report.DeadCount),
	)
	return report, nil
}

func validateUnit(unit invdomain.HeldUnit, asOf time.Time) error {
	if !unit.Status.Valid() {
		return invdomain.ErrInvalidStatus
	}
	if unit.AcquisitionPriceMinorUnits < 0 {
		return invdomain.ErrInvalidAcquisitionPrice
	}
	if unit.Status == invdomain.UnitStatusSold {
		if unit.SoldAt == nil || unit.SalePriceMinorUnits == nil {
			return invdomain.ErrMissingSaleData
		}
		if unit.SoldAt.Before(unit.AcquiredAt) {
			return invdomain.ErrSoldBeforeAcquired
		}
	} else if asOf.Before(unit.AcquiredAt) {
		return invdomain.ErrAsOfBeforeAcquired
	}
	return nil
}

// profitBasis picks the realized sale price for sold units, the caller's
// resale reference for held ones. No basis means no ROI and no profit rate.
func profitBasis(unit invdomain.HeldUnit, opts invdomain.ComputeOptions) (int64, bool) {
	if unit.Status == invdomain.UnitStatusSold {
		return *unit.SalePriceMinorUnits - unit.AcquisitionPriceMinorUnits, true
	}
	if opts.ResaleReferenceMinorUnits != nil {
		return *opts.ResaleReferenceMinorUnits - unit.AcquisitionPriceMinorUnits, true
	}
	return 0, false
}
