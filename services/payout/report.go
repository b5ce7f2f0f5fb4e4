package payout

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/period"

	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Reporter archives the committed batch as a CSV statement in object
// storage, one object per period. Uploads are best effort and never affect
// the allocation outcome.
type Reporter struct {
	client *minio.Client
	bucket string
}

type ReporterParams struct {
	fx.In
	Client *minio.Client `optional:"true"`
	Config *config.Config
}

func NewReporter(p ReporterParams) *Reporter {
	return &Reporter{
		client: p.Client,
		bucket: p.Config.Minio.BucketName,
	}
}

func (r *Reporter) Upload(ctx context.Context, p period.Period, batch []*Payout) error {
	if r.client == nil {
		return nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{
		"payout_id", "creator_id", "period", "total_res", "res_share_ppm",
		"subscription_payout", "shop_payout", "total_payout", "status",
	}); err != nil {
		return err
	}
	for _, po := range batch {
		if err := w.Write([]string{
			po.ID.String(),
			po.CreatorID,
			po.PeriodLabel,
			strconv.FormatInt(po.TotalRES, 10),
			strconv.FormatInt(po.ResSharePPM, 10),
			strconv.FormatInt(po.SubscriptionPayout, 10),
			strconv.FormatInt(po.ShopPayout, 10),
			strconv.FormatInt(po.TotalPayout, 10),
			string(po.Status),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	objectName := fmt.Sprintf("statements/%s.csv", p.Label())
	_, err := r.client.PutObject(ctx, r.bucket, objectName,
		bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "text/csv"},
	)
	if err != nil {
		return err
	}

	zap.L().Info("period statement archived",
		zap.String("bucket", r.bucket),
		zap.String("object", objectName),
		zap.Int("rows", len(batch)),
	)
	return nil
}
