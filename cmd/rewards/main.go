package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgasynq "contextly-rewards/pkg/asynq"
	"contextly-rewards/pkg/chain"
	"contextly-rewards/pkg/config"
	"contextly-rewards/pkg/db"
	"contextly-rewards/pkg/gen"
	"contextly-rewards/pkg/logger"
	"contextly-rewards/pkg/redis"
	"contextly-rewards/pkg/sequence"
	"contextly-rewards/services/accrual"
	"contextly-rewards/services/queue"
	"contextly-rewards/services/reward"
	"contextly-rewards/services/settlement"
	"contextly-rewards/services/stats"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgasynq.Client,
		pkgasynq.Server,
		gen.Module,
		chain.Module,
		sequence.Module,
		reward.Module,
		accrual.Module,
		queue.Module,
		stats.Module,
		settlement.Module,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&queue.ContributionAction{},
		&queue.Referral{},
		&settlement.Reconciliation{},
	)
}
