package pricesource

import (
	"github.com/soleworks/soleledger/internal/pricesource/repository"
	"github.com/soleworks/soleledger/internal/pricesource/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricesource",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
