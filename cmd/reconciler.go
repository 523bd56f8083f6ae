package main

import (
	"context"
	"log"
	"time"

	"arendoBack/internal/config"
	"arendoBack/internal/repositories"
	"arendoBack/internal/services"
)

const (
	defaultReconcileInterval = time.Minute
	defaultStuckAfter        = 5 * time.Minute
)

// startSettlementReconciler sweeps bookings whose chain action was broadcast
// but never finalized: a crash mid settlement, a gateway timeout, or a failed
// status flip after confirmation. Each pass re-reads the receipt and drives
// the booking to its correct terminal state.
func startSettlementReconciler(ctx context.Context, repo *repositories.BookingRepository, svc *services.SettlementService, cfg config.Config, infoLog, errorLog *log.Logger) {
	interval := cfg.Reconciler.Interval.Std()
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	stuckAfter := cfg.Reconciler.StuckAfter.Std()
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reconcileOnce(ctx, repo, svc, stuckAfter, infoLog, errorLog)
			}
		}
	}()
}

func reconcileOnce(ctx context.Context, repo *repositories.BookingRepository, svc *services.SettlementService, stuckAfter time.Duration, infoLog, errorLog *log.Logger) {
	bookings, err := repo.ListReconcilePending(ctx, time.Now().Add(-stuckAfter))
	if err != nil {
		errorLog.Printf("reconciler: list pending: %v", err)
		return
	}
	for _, booking := range bookings {
		if err := svc.Reconcile(ctx, booking); err != nil {
			errorLog.Printf("reconciler: booking %d: %v", booking.ID, err)
			continue
		}
		infoLog.Printf("reconciler: booking %d resolved", booking.ID)
	}
}
