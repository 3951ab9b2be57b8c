package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/jobkvs/internal/backup"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// BackupStats exposes backup counters to the reporter.
type BackupStats interface {
	Stats() backup.Stats
}

// Reporter periodically logs job progress and outstanding backups while a run
// is in progress.
type Reporter struct {
	cron     *cron.Cron
	tracker  *Tracker
	backups  BackupStats
	interval time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	started bool
}

func NewReporter(tracker *Tracker, backups BackupStats, interval time.Duration, logger *logrus.Logger) *Reporter {
	return &Reporter{
		cron:     cron.New(),
		tracker:  tracker,
		backups:  backups,
		interval: interval,
		logger:   logger,
	}
}

func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("reporter already started")
	}

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), r.Report); err != nil {
		return fmt.Errorf("failed to schedule progress report: %w", err)
	}

	r.cron.Start()
	r.started = true
	r.logger.WithField("interval", r.interval.String()).Debug("Progress reporter started")
	return nil
}

func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}

	ctx := r.cron.Stop()
	<-ctx.Done()
	r.started = false
	r.logger.Debug("Progress reporter stopped")
}

func (r *Reporter) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Report logs one progress line.
func (r *Reporter) Report() {
	counts := r.tracker.Counts()
	fields := logrus.Fields{
		"total":   r.tracker.Total(),
		"queued":  counts[StateQueued],
		"running": counts[StateRunning],
		"done":    counts[StateDone],
		"failed":  counts[StateFailed],
	}

	if r.backups != nil {
		stats := r.backups.Stats()
		fields["backups_outstanding"] = stats.Outstanding
		fields["backups_completed"] = stats.Completed
		fields["backups_failed"] = stats.Failed
	}

	r.logger.WithFields(fields).Info("Progress")
}
