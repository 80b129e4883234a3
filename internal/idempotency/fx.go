package idempotency

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldclock/internal/config"
	"github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	"github.com/smallbiznis/fieldclock/internal/idempotency/repository"
	"github.com/smallbiznis/fieldclock/internal/idempotency/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type storeParams struct {
	fx.In

	Cfg   config.Config
	DB    *gorm.DB
	Redis *redis.Client `optional:"true"`
	Log   *zap.Logger
}

func provideStore(p storeParams) domain.Store {
	if p.Cfg.IdempotencyBackend == "redis" {
		if p.Redis != nil {
			return repository.NewRedisStore(p.Redis)
		}
		p.Log.Warn("redis idempotency backend requested without redis client, using database")
	}
	return repository.NewGormStore(p.DB)
}

var Module = fx.Module("idempotency",
	fx.Provide(provideStore),
	fx.Provide(service.NewService),
)
