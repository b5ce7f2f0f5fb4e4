package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/db"
	"cookshare-payouts/pkg/kafka"
	"cookshare-payouts/pkg/logger"
	"cookshare-payouts/pkg/task"
	"cookshare-payouts/services/commission"
	"cookshare-payouts/services/payout"
)

// The worker consumes the disbursement queue. It shares the stores with the
// API process but runs no HTTP server and no scheduler.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		kafka.Module,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		commission.Module,
		payout.WorkerModule,
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

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
