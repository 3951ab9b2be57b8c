package types

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobPaths(t *testing.T) {
	job := NewJob("/tmp/jobs", "test.job")

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "test", job.BaseName())
	assert.Equal(t, filepath.Join("/tmp/jobs", "test.job"), job.InputPath())
	assert.Equal(t, filepath.Join("/tmp/jobs", "test.out"), job.OutputPath())
	assert.Equal(t, filepath.Join("/tmp/jobs", "test-3.bck"), job.BackupPath(3))
}

func TestJobNextBackup(t *testing.T) {
	job := NewJob("jobs", "a.job")

	assert.Equal(t, 0, job.BackupCount)
	assert.Equal(t, 1, job.NextBackup())
	assert.Equal(t, 2, job.NextBackup())
	assert.Equal(t, 3, job.NextBackup())
	assert.Equal(t, 3, job.BackupCount)
}

func TestJobBaseNameWithDots(t *testing.T) {
	job := NewJob("jobs", "nightly.load.job")
	assert.Equal(t, "nightly.load", job.BaseName())
	assert.Equal(t, filepath.Join("jobs", "nightly.load-1.bck"), job.BackupPath(1))
}
