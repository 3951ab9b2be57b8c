package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/0xPuncker/jobkvs/pkg/types"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

var states = []State{StateQueued, StateRunning, StateDone, StateFailed}

// Record is the last known state of one job.
type Record struct {
	Job      string
	Path     string
	State    State
	Worker   int
	Err      string
	Queued   time.Time
	Started  time.Time
	Finished time.Time
}

// Tracker keeps the state of every job of the run. Each job's record is only
// updated by the goroutine that owns the job at that moment.
type Tracker struct {
	records *cache.Cache
	logger  *logrus.Logger
}

func NewTracker(logger *logrus.Logger) *Tracker {
	return &Tracker{
		records: cache.New(cache.NoExpiration, 0),
		logger:  logger,
	}
}

func (t *Tracker) Queued(job *types.Job) {
	t.records.Set(job.ID, Record{
		Job:    job.Name,
		Path:   job.InputPath(),
		State:  StateQueued,
		Queued: time.Now(),
	}, cache.NoExpiration)
}

func (t *Tracker) Started(job *types.Job, worker int) {
	rec := t.record(job)
	rec.State = StateRunning
	rec.Worker = worker
	rec.Started = time.Now()
	t.records.Set(job.ID, rec, cache.NoExpiration)
}

func (t *Tracker) Finished(job *types.Job, err error) {
	rec := t.record(job)
	rec.State = StateDone
	if err != nil {
		rec.State = StateFailed
		rec.Err = err.Error()
	}
	rec.Finished = time.Now()
	t.records.Set(job.ID, rec, cache.NoExpiration)

	t.logger.WithFields(logrus.Fields{
		"job":   job.Name,
		"state": rec.State,
	}).Debug("Job state updated")
}

func (t *Tracker) record(job *types.Job) Record {
	if cached, found := t.records.Get(job.ID); found {
		return cached.(Record)
	}
	return Record{Job: job.Name, Path: job.InputPath()}
}

// State returns the state of the job with the given ID.
func (t *Tracker) State(id string) (State, bool) {
	cached, found := t.records.Get(id)
	if !found {
		return "", false
	}
	return cached.(Record).State, true
}

// Counts returns the number of jobs in each state.
func (t *Tracker) Counts() map[State]int {
	counts := make(map[State]int, len(states))
	for _, s := range states {
		counts[s] = 0
	}
	for _, item := range t.records.Items() {
		counts[item.Object.(Record).State]++
	}
	return counts
}

// Records returns every record ordered by job path.
func (t *Tracker) Records() []Record {
	items := t.records.Items()
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, item.Object.(Record))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
	return records
}

func (t *Tracker) Total() int {
	return t.records.ItemCount()
}

// Summary renders the state counts, e.g. "Queued: 0, Running: 1, Done: 4, Failed: 0".
func (t *Tracker) Summary() string {
	counts := t.Counts()
	title := cases.Title(language.English)

	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%s: %d", title.String(string(s)), counts[s]))
	}
	return strings.Join(parts, ", ")
}
