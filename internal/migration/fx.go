package migration

import (
	"github.com/smallbiznis/fieldclock/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")

		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			log.Info("applying embedded migrations")
			return RunMigrations(sqlDB)
		}

		if !cfg.DBAutoMigrate {
			log.Warn("auto migrate disabled", zap.String("dialect", conn.Dialector.Name()))
			return nil
		}
		log.Info("auto migrating schema", zap.String("dialect", conn.Dialector.Name()))
		return AutoMigrate(conn)
	}),
)
