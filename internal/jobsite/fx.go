package jobsite

import (
	"github.com/smallbiznis/fieldclock/internal/jobsite/repository"
	"github.com/smallbiznis/fieldclock/internal/jobsite/service"
	"go.uber.org/fx"
)

var Module = fx.Module("jobsite.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
