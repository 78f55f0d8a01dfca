package invanalytics

import (
	"github.com/soleworks/soleledger/internal/invanalytics/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invanalytics.service",
	fx.Provide(service.NewService),
)
