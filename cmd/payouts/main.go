package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cookshare-payouts/internal/httpapi"
	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/db"
	"cookshare-payouts/pkg/hashistack/secretmanager"
	"cookshare-payouts/pkg/kafka"
	"cookshare-payouts/pkg/lease"
	"cookshare-payouts/pkg/logger"
	"cookshare-payouts/pkg/minio"
	"cookshare-payouts/pkg/redis"
	"cookshare-payouts/pkg/server"
	"cookshare-payouts/pkg/task"
	"cookshare-payouts/services/commission"
	"cookshare-payouts/services/creator"
	"cookshare-payouts/services/engagement"
	"cookshare-payouts/services/payout"
	"cookshare-payouts/services/revenue"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		lease.Module,
		task.Client,
		kafka.Module,
		minio.Client,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
		),
		creator.Module,
		engagement.Module,
		revenue.Module,
		commission.Module,
		payout.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fx.Invoke(registerDBMetrics),
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

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func registerDBMetrics(gdb *gorm.DB, cfg *config.Config) {
	if err := db.Metric(gdb, cfg.Database.DBNAME); err != nil {
		zap.L().Warn("db metrics disabled", zap.Error(err))
	}
}
