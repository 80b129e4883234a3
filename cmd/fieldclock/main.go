package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/internal/config"
	"github.com/smallbiznis/fieldclock/internal/logger"
	"github.com/smallbiznis/fieldclock/internal/migration"
	"github.com/smallbiznis/fieldclock/internal/observability"
	"github.com/smallbiznis/fieldclock/internal/scheduler"
	"github.com/smallbiznis/fieldclock/internal/server"
	"github.com/smallbiznis/fieldclock/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// server.Module brings the domain services; the scheduler reuses them
		// and stays idle unless SCHEDULER_ENABLED is set.
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
