package persona

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Refreshable sources can reload their backing data.
type Refreshable interface {
	Refresh(ctx context.Context) error
}

// Refresher reloads a dataset on a cron schedule.
type Refresher struct {
	cron   *cron.Cron
	source Refreshable
	logger *slog.Logger
}

// NewRefresher schedules source.Refresh on a cron schedule such as "@every 30s".
// Overlapping runs are skipped.
func NewRefresher(schedule string, source Refreshable, logger *slog.Logger) (*Refresher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	r := &Refresher{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		source: source,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.source.Refresh(ctx); err != nil {
		r.logger.Warn("Dataset refresh failed", "error", err)
	}
}

// Start begins the schedule in its own goroutine.
func (r *Refresher) Start() {
	r.cron.Start()
	r.logger.Info("Dataset refresher started")
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Dataset refresher stopped")
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
