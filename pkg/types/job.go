package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	JobExtension    = ".job"
	OutputExtension = ".out"
	BackupExtension = ".bck"
)

// Job represents one job file discovered in the jobs directory.
// A Job is owned by the queue until dequeued and by exactly one worker after that.
type Job struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Directory string `json:"directory"`

	// BackupCount is the sequence number of the last BACKUP issued by this job.
	// Only the worker that owns the job advances it.
	BackupCount int `json:"backup_count"`

	// ProcessCount is the number of backup children of this job still alive.
	ProcessCount atomic.Int32 `json:"-"`
}

func NewJob(directory, name string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Directory: directory,
	}
}

// BaseName returns the job file name without its extension.
func (j *Job) BaseName() string {
	return strings.TrimSuffix(j.Name, filepath.Ext(j.Name))
}

func (j *Job) InputPath() string {
	return filepath.Join(j.Directory, j.Name)
}

func (j *Job) OutputPath() string {
	return filepath.Join(j.Directory, j.BaseName()+OutputExtension)
}

// BackupPath returns the path of the n-th backup of this job: <dir>/<basename>-<n>.bck
func (j *Job) BackupPath(n int) string {
	return filepath.Join(j.Directory, fmt.Sprintf("%s-%d%s", j.BaseName(), n, BackupExtension))
}

// NextBackup advances the backup sequence and returns the new number.
func (j *Job) NextBackup() int {
	j.BackupCount++
	return j.BackupCount
}

func (j *Job) String() string {
	return j.InputPath()
}
