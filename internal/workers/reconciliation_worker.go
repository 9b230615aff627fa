package workers

import (
	"context"
	"time"

	"gongbu_payments/internal/logger"
	"gongbu_payments/internal/repositories"
	"gongbu_payments/internal/services"
)

const stuckBatchSize = 50

// ReconciliationWorker опрашивает провайдеров о платежах, зависших
// в PENDING/PROCESSING: недоставленные webhook'и и неоднозначные исходы
// разрешаются отсюда.
type ReconciliationWorker struct {
	paymentRepo    repositories.PaymentRepository
	paymentService services.PaymentService
	interval       time.Duration
	// Платеж считается зависшим, если не обновлялся дольше этого возраста
	stuckAfter time.Duration
}

func NewReconciliationWorker(
	paymentRepo repositories.PaymentRepository,
	paymentService services.PaymentService,
	interval, stuckAfter time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		paymentRepo:    paymentRepo,
		paymentService: paymentService,
		interval:       interval,
		stuckAfter:     stuckAfter,
	}
}

// Start запускает фоновый цикл reconciliation
func (w *ReconciliationWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *ReconciliationWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			w.reconcileOnce(ctx)
		}
	}
}

func (w *ReconciliationWorker) reconcileOnce(ctx context.Context) {
	olderThan := time.Now().Add(-w.stuckAfter)
	payments, err := w.paymentRepo.FindStuck(ctx, olderThan, stuckBatchSize)
	if err != nil {
		logger.WorkerLog("reconciliation", "find_stuck", err)
		return
	}
	if len(payments) == 0 {
		return
	}

	logger.Info("reconciling stuck payments", "count", len(payments))

	for i := range payments {
		payment := &payments[i]
		if err := w.paymentService.ResolvePayment(ctx, payment); err != nil {
			// Ошибка по одному платежу не останавливает проход
			logger.WorkerLog("reconciliation", "resolve_payment", err)
			continue
		}
	}

	logger.WorkerLog("reconciliation", "reconcile_batch", nil)
}
