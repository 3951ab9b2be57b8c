package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/0xPuncker/jobkvs/internal/parser"
	"github.com/0xPuncker/jobkvs/pkg/types"
	"github.com/0xPuncker/jobkvs/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Runner executes the commands of one job.
type Runner interface {
	Run(ctx context.Context, job *types.Job, src parser.Source, out io.Writer) error
}

// Tracker is notified of job lifecycle transitions.
type Tracker interface {
	Queued(job *types.Job)
	Started(job *types.Job, worker int)
	Finished(job *types.Job, err error)
}

type nopTracker struct{}

func (nopTracker) Queued(*types.Job)         {}
func (nopTracker) Started(*types.Job, int)   {}
func (nopTracker) Finished(*types.Job, error) {}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPollInterval sets how long an idle worker waits before polling the
// queue again while other workers still hold jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

func WithTracker(t Tracker) PoolOption {
	return func(p *Pool) { p.tracker = t }
}

// Pool runs a fixed number of workers against a shared queue until every
// submitted job has been processed.
type Pool struct {
	queue        *Queue
	runner       Runner
	workers      int
	pollInterval time.Duration
	tracker      Tracker
	logger       *logrus.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

func NewPool(queue *Queue, runner Runner, workers int, logger *logrus.Logger, opts ...PoolOption) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", workers)
	}

	p := &Pool{
		queue:        queue,
		runner:       runner,
		workers:      workers,
		pollInterval: 10 * time.Millisecond,
		tracker:      nopTracker{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Submit enqueues a job. Jobs submitted before Run, or during Run while another
// job is still in flight, are processed by that Run. Once the workers have
// exited the job stays queued until Run is called again.
func (p *Pool) Submit(job *types.Job) {
	p.queue.Enqueue(job)
	p.tracker.Queued(job)
}

// Run starts the workers and returns once the queue is drained and no job is
// in flight.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.WithFields(logrus.Fields{
		"workers": p.workers,
		"jobs":    p.queue.Len(),
	}).Info("Worker pool starting")

	start := time.Now()

	var g errgroup.Group
	for i := 1; i <= p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	err := g.Wait()

	p.logger.WithFields(logrus.Fields{
		"processed": p.processed.Load(),
		"failed":    p.failed.Load(),
		"duration":  utils.FormatDuration(time.Since(start)),
	}).Info("Worker pool finished")

	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		job, ok, pending := p.queue.poll()
		if !ok {
			if !pending {
				return
			}
			time.Sleep(p.pollInterval)
			continue
		}

		err := p.process(ctx, job, worker)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.processed.Add(1)
		}
		p.tracker.Finished(job, err)
		p.queue.Done()
	}
}

func (p *Pool) process(ctx context.Context, job *types.Job, worker int) error {
	log := p.logger.WithFields(logrus.Fields{
		"job":    job.Name,
		"job_id": job.ID,
		"worker": worker,
	})

	in, err := os.Open(job.InputPath())
	if err != nil {
		log.WithError(err).Error("Failed to open job file")
		return fmt.Errorf("failed to open job file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(job.OutputPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.WithError(err).Error("Failed to create output file")
		return fmt.Errorf("failed to create output file: %w", err)
	}

	p.tracker.Started(job, worker)
	log.Debug("Job started")
	start := time.Now()

	runErr := p.runner.Run(ctx, job, parser.New(in), out)
	closeErr := out.Close()

	if runErr != nil {
		log.WithError(runErr).Error("Job aborted")
		return runErr
	}
	if closeErr != nil {
		log.WithError(closeErr).Error("Failed to close output file")
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}

	log.WithField("duration", utils.FormatDuration(time.Since(start))).Info("Job completed")
	return nil
}

func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

func (p *Pool) Failed() int64 {
	return p.failed.Load()
}

func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) Queue() *Queue {
	return p.queue
}
