package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	sizingdomain "github.com/soleworks/soleledger/internal/sizing/domain"
)

const (
	defaultProductTTL = 10 * time.Minute
	defaultSizeTTL    = time.Hour
)

// IngestResolverCache stores hot-path resolver lookups for price ingestion.
// Product refs repeat across every feed row and the size dictionary is tiny
// and immutable once standardized, so both cache aggressively.
type IngestResolverCache interface {
	GetProduct(externalRef string) (snowflake.ID, bool)
	SetProduct(externalRef string, id snowflake.ID)
	GetSize(region sizingdomain.Region, raw string) (*sizingdomain.Size, bool)
	SetSize(region sizingdomain.Region, raw string, size *sizingdomain.Size)
}

type ingestResolverCache struct {
	products   Cache[string, snowflake.ID]
	sizes      Cache[string, *sizingdomain.Size]
	productTTL time.Duration
	sizeTTL    time.Duration
}

// NewIngestResolverCache returns an in-memory cache tuned for batch ingest.
func NewIngestResolverCache() IngestResolverCache {
	return &ingestResolverCache{
		products:   NewTTLCache[string, snowflake.ID](),
		sizes:      NewTTLCache[string, *sizingdomain.Size](),
		productTTL: defaultProductTTL,
		sizeTTL:    defaultSizeTTL,
	}
}

func (c *ingestResolverCache) GetProduct(externalRef string) (snowflake.ID, bool) {
	return c.products.Get(cacheKey("product", externalRef))
}

func (c *ingestResolverCache) SetProduct(externalRef string, id snowflake.ID) {
	if id == 0 {
		return
	}
	c.products.Set(cacheKey("product", externalRef), id, c.productTTL)
}

func (c *ingestResolverCache) GetSize(region sizingdomain.Region, raw string) (*sizingdomain.Size, bool) {
	return c.sizes.Get(cacheKey("size", string(region), raw))
}

func (c *ingestResolverCache) SetSize(region sizingdomain.Region, raw string, size *sizingdomain.Size) {
	if size == nil {
		return
	}
	c.sizes.Set(cacheKey("size", string(region), raw), size, c.sizeTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
