package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/db"
	"cookshare-payouts/pkg/logger"
	"cookshare-payouts/pkg/period"
	"cookshare-payouts/services/commission"
	"cookshare-payouts/services/creator"
	"cookshare-payouts/services/engagement"
	"cookshare-payouts/services/revenue"
)

// Seeds last month with a small worked example: two creators earning
// engagement, one subscription charge and one shop order, so a local
// allocation run produces a non-trivial batch.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(provideSnowflakeNode),
		creator.Module,
		engagement.Module,
		revenue.Module,
		commission.Module,
		fx.Invoke(seed),
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
	return snowflake.NewNode(3)
}

type seedParams struct {
	fx.In
	Shutdowner  fx.Shutdowner
	Creators    *creator.Service
	Engagements *engagement.Service
	Revenues    *revenue.Service
	Commissions *commission.Service
}

func seed(p seedParams) error {
	ctx := context.Background()
	last := period.PreviousMonth(time.Now().UTC())

	profiles := []*creator.Profile{
		{CreatorID: "creator-ana", Handle: "@ana.cooks", Tier: creator.TierEstablished, PayoutDestination: "acct_seed_ana"},
		{CreatorID: "creator-ben", Handle: "@bens.kitchen", Tier: creator.TierEmerging, PayoutDestination: "acct_seed_ben"},
	}
	for _, profile := range profiles {
		if _, err := p.Creators.Upsert(ctx, profile); err != nil {
			return err
		}
	}

	days := []struct {
		recipeID  string
		creatorID string
		day       time.Time
		metrics   engagement.Metrics
	}{
		{"recipe-sourdough", "creator-ana", last.Start.AddDate(0, 0, 2), engagement.Metrics{Saves: 40, Cooks: 30, Shares: 10, Ratings: 20, ExclusiveViews: 20}},
		{"recipe-sourdough", "creator-ana", last.Start.AddDate(0, 0, 9), engagement.Metrics{Saves: 20, Cooks: 10, Shares: 5, Ratings: 5, ExclusiveViews: 10}},
		{"recipe-ramen", "creator-ben", last.Start.AddDate(0, 0, 5), engagement.Metrics{Saves: 15, Cooks: 10, Shares: 5, Ratings: 5, ExclusiveViews: 5}},
	}
	for _, d := range days {
		if _, err := p.Engagements.Record(ctx, engagement.RecordInput{
			RecipeID:  d.recipeID,
			CreatorID: d.creatorID,
			Day:       d.day,
			Metrics:   d.metrics,
		}); err != nil {
			return err
		}
	}

	for i := 0; i < 4; i++ {
		if _, err := p.Revenues.Ingest(ctx, revenue.IngestInput{
			ExternalID:  fmt.Sprintf("seed-sub-%s-%d", last.Label(), i),
			GrossAmount: 9_99,
			OccurredAt:  last.Start.AddDate(0, 0, 3+i*7),
			IsRenewal:   i > 0,
		}); err != nil {
			return err
		}
	}

	if _, err := p.Commissions.Record(ctx, commission.RecordInput{
		CreatorID: "creator-ana",
		OrderID:   fmt.Sprintf("seed-order-%s-1", last.Label()),
		Amount:    12_50,
		Status:    commission.StatusPaid,
		PaidAt:    last.Start.AddDate(0, 0, 12),
	}); err != nil {
		return err
	}

	zap.L().Info("seeded demo period", zap.String("period", last.Label()))
	return p.Shutdowner.Shutdown()
}
