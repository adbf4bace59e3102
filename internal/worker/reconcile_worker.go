package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Settler interface {
	SweepOverdue(ctx context.Context) error
	PollTimedOut(ctx context.Context) error
}

// ReconcileWorker drives settlement for withdrawals the rail went quiet on:
// it times out submissions past the SLA and polls for verdicts until each
// one resolves or exhausts its budget.
type ReconcileWorker struct {
	interval time.Duration
	settler  Settler
	logger   *zap.Logger
}

func NewReconcileWorker(interval time.Duration, settler Settler, logger *zap.Logger) *ReconcileWorker {
	return &ReconcileWorker{interval: interval, settler: settler, logger: logger}
}

func (w *ReconcileWorker) Run(ctx context.Context) {
	w.logger.Info("reconcile worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.settler.SweepOverdue(ctx); err != nil {
				w.logger.Error("overdue sweep failed", zap.Error(err))
			}
			if err := w.settler.PollTimedOut(ctx); err != nil {
				w.logger.Error("status poll failed", zap.Error(err))
			}
		}
	}
}
