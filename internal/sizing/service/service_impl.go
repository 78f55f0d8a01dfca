package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	sizingdomain "github.com/soleworks/soleledger/internal/sizing/domain"
	"github.com/soleworks/soleledger/pkg/db"
	"github.com/soleworks/soleledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Conversion offsets onto the EU scale, in hundredths of a size.
// CM is a length-based system; its factor is an approximation and the only
// lossy conversion in the table.
const (
	usMenOffset   = 3300
	usWomenOffset = 3050
	usYouthOffset = 3250
	ukOffset      = 3350
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	sizes repository.Repository[sizingdomain.Size]
}

func NewService(p ServiceParam) sizingdomain.Service {
	return &Service{
		log:   p.Log.Named("sizing.service"),
		genID: p.GenID,
		sizes: repository.ProvideStore[sizingdomain.Size](p.DB),
	}
}

// Normalize converts a raw marketplace size onto the EU scale in hundredths.
// Pure and deterministic: equal inputs always produce equal outputs.
func (s *Service) Normalize(raw string, region sizingdomain.Region) (int64, error) {
	return normalize(raw, region)
}

// Resolve returns the dictionary row for (raw, region), creating it on first
// sighting. Concurrent first sightings race on the unique index; the loser
// refetches the winner's row.
func (s *Service) Resolve(ctx context.Context, raw string, region sizingdomain.Region) (*sizingdomain.Size, error) {
	value, err := normalize(raw, region)
	if err != nil {
		return nil, err
	}

	key := canonicalRaw(raw)
	filter := &sizingdomain.Size{RawValue: key, Region: region}
	existing, err := s.sizes.FindOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	size := &sizingdomain.Size{
		ID:                s.genID.Generate(),
		RawValue:          key,
		Region:            region,
		StandardizedValue: value,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.sizes.Create(ctx, size); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.sizes.FindOne(ctx, filter)
		}
		return nil, err
	}

	s.log.Debug("size first sighting",
		zap.String("raw_value", key),
		zap.String("region", string(region)),
		zap.Int64("standardized_value", value),
	)
	return size, nil
}

func normalize(raw string, region sizingdomain.Region) (int64, error) {
	if !region.Valid() {
		return 0, sizingdomain.ErrUnknownRegion
	}

	value, marker, err := parseRaw(raw)
	if err != nil {
		return 0, err
	}

	switch region {
	case sizingdomain.RegionUS:
		switch marker {
		case markerWomen:
			return value + usWomenOffset, nil
		case markerYouth:
			return value + usYouthOffset, nil
		default:
			return value + usMenOffset, nil
		}
	case sizingdomain.RegionUK:
		return value + ukOffset, nil
	case sizingdomain.RegionEU:
		return value, nil
	case sizingdomain.RegionCM:
		// value * 1.5, rounded half up when the raw length sits between
		// representable hundredths.
		scaled := value * 3
		return (scaled + 1) / 2, nil
	}
	return 0, sizingdomain.ErrUnknownRegion
}

type marker int

const (
	markerNone marker = iota
	markerWomen
	markerYouth
)

// parseRaw tokenizes a raw size into hundredths plus an optional gender/age
// marker suffix (W = women's, Y = youth). Anything else is an error, never a
// silent default: a silently skipped size breaks arbitrage matching silently.
func parseRaw(raw string) (int64, marker, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return 0, markerNone, sizingdomain.ErrUnparseableSize
	}

	m := markerNone
	switch {
	case strings.HasSuffix(value, "W"):
		m = markerWomen
		value = strings.TrimSpace(strings.TrimSuffix(value, "W"))
	case strings.HasSuffix(value, "Y"):
		m = markerYouth
		value = strings.TrimSpace(strings.TrimSuffix(value, "Y"))
	}
	if value == "" {
		return 0, markerNone, sizingdomain.ErrUnparseableSize
	}

	whole := value
	frac := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole, frac = value[:idx], value[idx+1:]
		if frac == "" || len(frac) > 2 {
			return 0, markerNone, sizingdomain.ErrUnparseableSize
		}
	}
	if whole == "" || !allDigits(whole) || !allDigits(frac) {
		return 0, markerNone, sizingdomain.ErrUnparseableSize
	}

	var hundredths int64
	for _, r := range whole {
		hundredths = hundredths*10 + int64(r-'0')
		if hundredths > 1_000 {
			// No sizing system goes anywhere near EU 1000.
			return 0, markerNone, sizingdomain.ErrUnparseableSize
		}
	}
	hundredths *= 100

	scale := int64(10)
	for _, r := range frac {
		hundredths += int64(r-'0') * scale
		scale /= 10
	}

	return hundredths, m, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// canonicalRaw is the dictionary key form of a raw value: trimmed, uppercase
// marker, no trailing ".0".
func canonicalRaw(raw string) string {
	value := strings.ToUpper(strings.TrimSpace(raw))
	return strings.TrimSuffix(value, ".0")
}
