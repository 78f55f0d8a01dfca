package sizing

import (
	"github.com/soleworks/soleledger/internal/sizing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sizing.service",
	fx.Provide(service.NewService),
)
