package engagement

import (
	"context"
	"testing"
	"time"

	"cookshare-payouts/pkg/period"
	"cookshare-payouts/services/creator"
	"cookshare-payouts/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *creator.Service) {
	db := testutil.NewTestDB(t, &Record{}, &creator.Profile{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	profiles := creator.NewService(creator.Params{DB: db})
	return NewService(Params{DB: db, Node: node, Profiles: profiles}), profiles
}

func day(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
}

func march() period.Period {
	return period.New(day(1), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
}

func TestScoreFormula(t *testing.T) {
	m := Metrics{Saves: 10, Cooks: 4, Shares: 2, Ratings: 3, ExclusiveViews: 5}
	// 10*1 + 4*5 + 2*3 + 3*2 + 5*2
	require.Equal(t, int64(52), m.Score())
}

func TestRecordRejectsNegativeCounts(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Record(context.Background(), RecordInput{
		RecipeID:  "recipe-1",
		CreatorID: "creator-1",
		Day:       day(5),
		Metrics:   Metrics{Saves: -1},
	})
	require.Error(t, err)
}

func TestRecordRequiresIdentifiers(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Record(context.Background(), RecordInput{Day: day(5)})
	require.Error(t, err)
}

func TestRecordReplacesNotIncrements(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Record(ctx, RecordInput{
		RecipeID:  "recipe-1",
		CreatorID: "creator-1",
		Day:       day(5),
		Metrics:   Metrics{Saves: 10},
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), first.Score)

	_, err = svc.Record(ctx, RecordInput{
		RecipeID:  "recipe-1",
		CreatorID: "creator-1",
		Day:       day(5),
		Metrics:   Metrics{Saves: 4},
	})
	require.NoError(t, err)

	total, err := svc.TotalRESForCreator(ctx, "creator-1", march())
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
}

func TestTotalRESAppliesTierMultiplier(t *testing.T) {
	svc, profiles := newTestService(t)
	ctx := context.Background()

	_, err := profiles.Upsert(ctx, &creator.Profile{CreatorID: "creator-1", Tier: creator.TierEstablished})
	require.NoError(t, err)

	_, err = svc.Record(ctx, RecordInput{
		RecipeID:  "recipe-1",
		CreatorID: "creator-1",
		Day:       day(5),
		Metrics:   Metrics{Saves: 100},
	})
	require.NoError(t, err)

	total, err := svc.TotalRESForCreator(ctx, "creator-1", march())
	require.NoError(t, err)
	require.Equal(t, int64(125), total)
}

func TestTotalRESZeroWithoutEngagement(t *testing.T) {
	svc, _ := newTestService(t)

	total, err := svc.TotalRESForCreator(context.Background(), "nobody", march())
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestTotalRESHonoursPeriodBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Inside, on the end bound (excluded), before the start.
	for _, d := range []time.Time{day(31), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)} {
		_, err := svc.Record(ctx, RecordInput{
			RecipeID:  "recipe-" + d.Format("20060102"),
			CreatorID: "creator-1",
			Day:       d,
			Metrics:   Metrics{Saves: 7},
		})
		require.NoError(t, err)
	}

	total, err := svc.TotalRESForCreator(ctx, "creator-1", march())
	require.NoError(t, err)
	require.Equal(t, int64(7), total)
}

func TestTotalRESByCreator(t *testing.T) {
	svc, profiles := newTestService(t)
	ctx := context.Background()

	_, err := profiles.Upsert(ctx, &creator.Profile{CreatorID: "creator-2", Tier: creator.TierPartner})
	require.NoError(t, err)

	_, err = svc.Record(ctx, RecordInput{
		RecipeID: "recipe-1", CreatorID: "creator-1", Day: day(3), Metrics: Metrics{Saves: 10},
	})
	require.NoError(t, err)
	_, err = svc.Record(ctx, RecordInput{
		RecipeID: "recipe-2", CreatorID: "creator-2", Day: day(4), Metrics: Metrics{Saves: 10},
	})
	require.NoError(t, err)

	totals, err := svc.TotalRESByCreator(ctx, march())
	require.NoError(t, err)
	require.Equal(t, map[string]int64{
		"creator-1": 10,
		"creator-2": 15,
	}, totals)
}
