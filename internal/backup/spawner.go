package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/0xPuncker/jobkvs/internal/kvs"
)

// TargetEnv carries the backup file path to a child process. A binary started
// with it set runs as a backup child instead of its normal entrypoint.
const TargetEnv = "KVS_BACKUP_TARGET"

// Process is a running backup child.
type Process interface {
	Pid() int
	// Wait blocks until the child exits and reports a non-zero exit as an error.
	Wait() error
}

// Spawner starts an isolated child that writes entries to path.
type Spawner interface {
	Spawn(path string, entries []kvs.Entry) (Process, error)
}

// ExecSpawner re-executes a binary as the backup child and streams the
// snapshot to it as JSON on stdin. The child shares no memory with the parent.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
}

// NewExecSpawner returns a spawner that re-executes the running binary.
func NewExecSpawner() (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &ExecSpawner{Path: exe}, nil
}

func (s *ExecSpawner) Spawn(path string, entries []kvs.Entry) (Process, error) {
	if entries == nil {
		entries = []kvs.Entry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(append(os.Environ(), s.Env...), TargetEnv+"="+path)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
