package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Resolver maps an external SKU/GTIN/EAN to the internal product identity.
// The surrounding catalog owns enrichment; the engine only resolves keys.
type Resolver interface {
	ResolveProduct(ctx context.Context, externalRef string) (snowflake.ID, error)
}

var ErrInvalidExternalRef = errors.New("invalid_external_ref")
