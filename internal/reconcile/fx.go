package reconcile

import (
	"github.com/soleworks/soleledger/internal/cache"
	"github.com/soleworks/soleledger/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(cache.NewIngestResolverCache),
	fx.Provide(service.NewService),
)
