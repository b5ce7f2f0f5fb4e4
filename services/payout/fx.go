package payout

import (
	"cookshare-payouts/services/commission"
	payouttask "cookshare-payouts/services/payout/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("payout.service",
	fx.Provide(NewService, NewAllocator, NewReporter, NewScheduler),
	fx.Invoke(migrate),
	fx.Invoke(wireFinalizedChecker),
	fx.Invoke(StartScheduler),
)

// WorkerModule runs in the asynq worker binary: the disbursement handler
// plus the same finalized-checker wiring the API process has.
var WorkerModule = fx.Module("payout.worker",
	fx.Provide(NewService, NewDisburser, NewTask),
	fx.Invoke(migrate),
	fx.Invoke(wireFinalizedChecker),
	fx.Invoke(registerHandlers),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Payout{})
}

func wireFinalizedChecker(commissions *commission.Service, payouts *Service) {
	commissions.SetFinalizedChecker(payouts)
}

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(payouttask.TypePayoutDisburse, t.HandleDisbursePayout)
}
