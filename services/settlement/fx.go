package settlement

import (
	"context"

	"go.uber.org/fx"

	"contextly-rewards/services/stats"
)

var Module = fx.Module("settlement",
	fx.Provide(
		NewProcessor,
		NewScheduler,
		func(e *stats.Enqueuer) StatsRefresher { return e },
	),
	fx.Invoke(registerScheduler),
)

func registerScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
