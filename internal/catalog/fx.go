package catalog

import (
	"github.com/soleworks/soleledger/internal/catalog/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(repository.NewResolver),
)
