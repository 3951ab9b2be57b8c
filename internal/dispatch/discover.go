package dispatch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/0xPuncker/jobkvs/pkg/types"
)

// Discover lists the regular files with the job extension directly inside
// dir, in directory order.
func Discover(dir string) ([]*types.Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs directory: %w", err)
	}

	var jobs []*types.Job
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if filepath.Ext(entry.Name()) != types.JobExtension {
			continue
		}
		jobs = append(jobs, types.NewJob(dir, entry.Name()))
	}
	return jobs, nil
}
