package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/jobkvs/internal/kvs"
	"github.com/0xPuncker/jobkvs/pkg/types"
	"github.com/0xPuncker/jobkvs/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrSpawn is returned when a backup child process could not be started.
var ErrSpawn = errors.New("failed to spawn backup process")

// Snapshotter is the read side of the store used for backups.
type Snapshotter interface {
	Snapshot() []kvs.Entry
}

type EventType string

const (
	EventSpawned EventType = "spawned"
	EventExited  EventType = "exited"
)

// Event describes a backup child lifecycle transition.
type Event struct {
	Type        EventType
	Job         string
	Seq         int
	Path        string
	Pid         int
	Outstanding int
	Err         error
	Time        time.Time
}

// Observer receives lifecycle events. It is called from worker and reaper
// goroutines and must be safe for concurrent use.
type Observer func(Event)

type Option func(*Manager)

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

type Stats struct {
	Outstanding int
	Peak        int
	Completed   int
	Failed      int
}

// Manager runs backups in child processes, allowing at most ceiling of them
// to be alive at the same time across all jobs.
type Manager struct {
	store    Snapshotter
	spawner  Spawner
	logger   *logrus.Logger
	ceiling  int
	sem      *semaphore.Weighted
	observer Observer

	wg    sync.WaitGroup
	mu    sync.Mutex
	stats Stats
}

func NewManager(store Snapshotter, spawner Spawner, ceiling int, logger *logrus.Logger, opts ...Option) (*Manager, error) {
	if ceiling < 1 {
		return nil, fmt.Errorf("backup ceiling must be at least 1, got %d", ceiling)
	}

	m := &Manager{
		store:   store,
		spawner: spawner,
		logger:  logger,
		ceiling: ceiling,
		sem:     semaphore.NewWeighted(int64(ceiling)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Backup assigns the job its next backup number and starts a child process
// writing a snapshot of the store to the job's backup path. It blocks while
// the ceiling is reached but does not wait for the child to exit.
func (m *Manager) Backup(ctx context.Context, job *types.Job) error {
	seq := job.NextBackup()
	path := job.BackupPath(seq)

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire backup slot for %s: %w", path, err)
	}

	entries := m.store.Snapshot()
	proc, err := m.spawner.Spawn(path, entries)
	if err != nil {
		m.sem.Release(1)
		return fmt.Errorf("%w for %s: %v", ErrSpawn, path, err)
	}

	started := time.Now()
	job.ProcessCount.Add(1)

	m.mu.Lock()
	m.stats.Outstanding++
	if m.stats.Outstanding > m.stats.Peak {
		m.stats.Peak = m.stats.Outstanding
	}
	outstanding := m.stats.Outstanding
	m.mu.Unlock()

	m.notify(Event{
		Type:        EventSpawned,
		Job:         job.Name,
		Seq:         seq,
		Path:        path,
		Pid:         proc.Pid(),
		Outstanding: outstanding,
		Time:        started,
	})

	m.logger.WithFields(logrus.Fields{
		"job":         job.Name,
		"job_id":      job.ID,
		"backup":      path,
		"entries":     len(entries),
		"pid":         proc.Pid(),
		"outstanding": outstanding,
	}).Debug("Backup process started")

	m.wg.Add(1)
	go m.reap(job, seq, path, proc, started)

	return nil
}

// reap collects the exit status of one child and frees its slot.
func (m *Manager) reap(job *types.Job, seq int, path string, proc Process, started time.Time) {
	defer m.wg.Done()

	err := proc.Wait()
	job.ProcessCount.Add(-1)

	m.mu.Lock()
	m.stats.Outstanding--
	if err != nil {
		m.stats.Failed++
	} else {
		m.stats.Completed++
	}
	outstanding := m.stats.Outstanding
	m.mu.Unlock()

	m.notify(Event{
		Type:        EventExited,
		Job:         job.Name,
		Seq:         seq,
		Path:        path,
		Pid:         proc.Pid(),
		Outstanding: outstanding,
		Err:         err,
		Time:        time.Now(),
	})

	m.sem.Release(1)

	fields := logrus.Fields{
		"job":      job.Name,
		"backup":   path,
		"pid":      proc.Pid(),
		"duration": utils.FormatDuration(time.Since(started)),
	}
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Error("Backup process failed")
		return
	}
	m.logger.WithFields(fields).Info("Backup completed")
}

func (m *Manager) notify(e Event) {
	if m.observer != nil {
		m.observer(e)
	}
}

// Wait blocks until every spawned child has been reaped.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) Ceiling() int {
	return m.ceiling
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
