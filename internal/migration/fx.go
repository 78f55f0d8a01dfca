package migration

import (
	"strings"

	"github.com/soleworks/soleledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// Embedded migrations target postgres. sqlite and mysql deployments
		// are expected to manage their own schema (tests use AutoMigrate).
		if strings.ToLower(cfg.DBType) != "postgres" {
			log.Info("skipping embedded migrations", zap.String("db_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
