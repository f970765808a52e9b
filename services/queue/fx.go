package queue

import (
	"go.uber.org/fx"

	"contextly-rewards/services/accrual"
	"contextly-rewards/services/reward"
)

var Module = fx.Module("queue.service",
	fx.Provide(
		NewFastPath,
		NewService,
		func(s *reward.Service) Estimator { return s },
		func(s *accrual.Service) Accruer { return s },
	),
)
