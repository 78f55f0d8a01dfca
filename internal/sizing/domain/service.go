package domain

import (
	"context"
	"errors"
)

// Service normalizes marketplace sizes onto the EU scale and maintains the
// size dictionary. Normalize is pure and deterministic; Resolve persists the
// first sighting of a (raw value, region) pair.
type Service interface {
	Normalize(raw string, region Region) (int64, error)
	Resolve(ctx context.Context, raw string, region Region) (*Size, error)
}

var (
	ErrUnparseableSize = errors.New("unparseable_size")
	ErrUnknownRegion   = errors.New("unknown_region")
)
