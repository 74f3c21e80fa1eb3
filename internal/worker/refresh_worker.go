// Package worker keeps cached month rows fresh: on a cron schedule and when
// another instance broadcasts a refresh.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ventas/internal/amqp"
	"ventas/internal/telemetry"
)

// Refresher reloads month rows.
type Refresher interface {
	Refresh(ctx context.Context, monthKey, trigger string) (time.Time, error)
	RefreshAll(ctx context.Context, trigger string) error
}

type RefreshWorker struct {
	refresher Refresher
	cron      *cron.Cron
	schedule  string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRefreshWorker(refresher Refresher, schedule string, timeout time.Duration, logger *slog.Logger) *RefreshWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &RefreshWorker{
		refresher: refresher,
		cron:      cron.New(),
		schedule:  schedule,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start registers the scheduled refresh. An empty schedule disables it.
func (w *RefreshWorker) Start() error {
	if w.schedule == "" {
		w.logger.Info("Scheduled refresh disabled")
		return nil
	}
	if _, err := w.cron.AddFunc(w.schedule, w.RunOnce); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", w.schedule, err)
	}
	w.cron.Start()
	w.logger.Info("Scheduled refresh started", "schedule", w.schedule)
	return nil
}

// Stop waits for a running refresh to finish.
func (w *RefreshWorker) Stop() {
	<-w.cron.Stop().Done()
}

// RunOnce reloads every available month.
func (w *RefreshWorker) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	start := time.Now()
	if err := w.refresher.RefreshAll(ctx, telemetry.TriggerSchedule); err != nil {
		w.logger.Error("Scheduled refresh failed", "error", err, "duration", time.Since(start))
		return
	}
	w.logger.Info("Scheduled refresh completed", "duration", time.Since(start))
}

// HandleRefreshMessage reloads the month announced by another instance.
func (w *RefreshWorker) HandleRefreshMessage(ctx context.Context, msg *amqp.RefreshMessage) error {
	w.logger.InfoContext(ctx, "Processing refresh message", "id", msg.ID, "month", msg.Month, "origin", msg.Origin)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if _, err := w.refresher.Refresh(ctx, msg.Month, telemetry.TriggerBroadcast); err != nil {
		return fmt.Errorf("refresh %s: %w", msg.Month, err)
	}
	return nil
}
