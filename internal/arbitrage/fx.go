package arbitrage

import (
	"github.com/soleworks/soleledger/internal/arbitrage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("arbitrage.service",
	fx.Provide(service.NewService),
)
