package task

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TypePayoutDisburse = "payout:disburse"

// DisbursePayoutPayload identifies the payout to push to the money-movement
// provider. Everything else is loaded from the row at handling time so a
// stale queue entry can never disburse stale amounts.
type DisbursePayoutPayload struct {
	PayoutID    string `json:"payout_id"`
	CreatorID   string `json:"creator_id"`
	PeriodLabel string `json:"period_label"`
}

func NewDisbursePayoutTask(p DisbursePayoutPayload, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue("payouts")}, opts...)
	return asynq.NewTask(TypePayoutDisburse, payload, opts...), nil
}
