package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/soleworks/soleledger/internal/catalog/domain"
	"github.com/soleworks/soleledger/pkg/db"
	"github.com/soleworks/soleledger/pkg/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type ResolverParam struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
}

type resolver struct {
	genID    *snowflake.Node
	products repository.Repository[catalogdomain.Product]
}

func NewResolver(p ResolverParam) catalogdomain.Resolver {
	return &resolver{
		genID:    p.GenID,
		products: repository.ProvideStore[catalogdomain.Product](p.DB),
	}
}

// ResolveProduct returns the product id for an external ref, creating the
// product on first sighting so feeds can reference items before the catalog
// has enriched them.
func (r *resolver) ResolveProduct(ctx context.Context, externalRef string) (snowflake.ID, error) {
	ref := strings.TrimSpace(externalRef)
	if ref == "" {
		return 0, catalogdomain.ErrInvalidExternalRef
	}

	filter := &catalogdomain.Product{ExternalRef: ref}
	existing, err := r.products.FindOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	now := time.Now().UTC()
	product := &catalogdomain.Product{
		ID:          r.genID.Generate(),
		ExternalRef: ref,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.products.Create(ctx, product); err != nil {
		if db.IsDuplicateKeyErr(err) {
			winner, ferr := r.products.FindOne(ctx, filter)
			if ferr != nil {
				return 0, ferr
			}
			if winner != nil {
				return winner.ID, nil
			}
		}
		return 0, err
	}
	return product.ID, nil
}
