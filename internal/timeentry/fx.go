package timeentry

import (
	"github.com/smallbiznis/fieldclock/internal/timeentry/repository"
	"github.com/smallbiznis/fieldclock/internal/timeentry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("timeentry.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
