package ratelimit

import (
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(fx.Annotate(
		NewClockEventLimiter,
		fx.As(new(timeentrydomain.ClockEventLimiter)),
	)),
)
