package payout

import (
	"context"
	"fmt"
	"time"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/errutil"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DisburseRequest is one transfer instruction for the money-movement
// provider. The idempotency key is the payout id, so retries of the same
// payout can never double-pay.
type DisburseRequest struct {
	IdempotencyKey   string `json:"idempotency_key"`
	Destination      string `json:"destination"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
}

type Disburser interface {
	Disburse(ctx context.Context, req DisburseRequest) error
}

type providerDisburser struct {
	client *resty.Client
}

func NewDisburser(cfg *config.Config) Disburser {
	if cfg.Payout.Provider.Addr == "" {
		zap.L().Warn("no disbursement provider configured, transfers will be logged only")
		return &logDisburser{}
	}

	client := resty.New().
		SetBaseURL(cfg.Payout.Provider.Addr).
		SetAuthToken(cfg.Payout.Provider.APIKey).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &providerDisburser{client: client}
}

type disburseError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (d *providerDisburser) Disburse(ctx context.Context, req DisburseRequest) error {
	var apiErr disburseError
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(req).
		SetError(&apiErr).
		Post("/v1/disbursements")
	if err != nil {
		return errutil.BadGateway("disbursement provider unreachable", errutil.WithErr(err))
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return errutil.BadGateway(fmt.Sprintf("disbursement rejected: %s", msg))
	}
	return nil
}

// logDisburser stands in when no provider address is configured, for local
// runs and the seed environment.
type logDisburser struct{}

func (l *logDisburser) Disburse(ctx context.Context, req DisburseRequest) error {
	zap.L().Info("simulated disbursement",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("destination", req.Destination),
		zap.Int64("amount", req.AmountMinorUnits),
	)
	return nil
}
