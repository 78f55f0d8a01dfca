package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/soleworks/soleledger/internal/arbitrage"
	"github.com/soleworks/soleledger/internal/catalog"
	"github.com/soleworks/soleledger/internal/clock"
	"github.com/soleworks/soleledger/internal/config"
	"github.com/soleworks/soleledger/internal/invanalytics"
	"github.com/soleworks/soleledger/internal/migration"
	"github.com/soleworks/soleledger/internal/observability"
	"github.com/soleworks/soleledger/internal/pricesource"
	"github.com/soleworks/soleledger/internal/reconcile"
	"github.com/soleworks/soleledger/internal/sizing"
	"github.com/soleworks/soleledger/pkg/db"
	"github.com/soleworks/soleledger/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		catalog.Module,
		sizing.Module,
		pricesource.Module,
		reconcile.Module,
		arbitrage.Module,
		invanalytics.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
