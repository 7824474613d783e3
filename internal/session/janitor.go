package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPurgeSchedule runs the janitor every ten minutes.
const DefaultPurgeSchedule = "@every 10m"

// Janitor periodically sweeps expired sessions from a Purger.
type Janitor struct {
	cron    *cron.Cron
	purger  Purger
	logger  *slog.Logger
	timeout time.Duration
}

// NewJanitor schedules purger.PurgeExpired on the cron spec.
func NewJanitor(purger Purger, schedule string, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	j := &Janitor{
		cron:    cron.New(),
		purger:  purger,
		logger:  logger,
		timeout: time.Minute,
	}
	if _, err := j.cron.AddFunc(schedule, j.RunOnce); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce performs one sweep.
func (j *Janitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		j.logger.Warn("session purge failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("purged expired sessions", "count", n)
	}
}
