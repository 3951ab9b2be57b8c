package interpreter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xPuncker/jobkvs/internal/kvs"
	"github.com/0xPuncker/jobkvs/internal/parser"
	"github.com/0xPuncker/jobkvs/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackuper struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (b *recordingBackuper) Backup(_ context.Context, job *types.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, job.NextBackup())
	return b.err
}

func run(t *testing.T, store Store, backup Backuper, input string) (string, *test.Hook) {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	var out bytes.Buffer
	in := New(store, backup, logger)
	job := types.NewJob("jobs", "test.job")

	err := in.Run(context.Background(), job, parser.New(strings.NewReader(input)), &out)
	require.NoError(t, err)
	return out.String(), hook
}

func TestRunScenario(t *testing.T) {
	input := strings.Join([]string{
		"WRITE [(a,1)(b,2)]",
		"READ [a,b,c]",
		"DELETE [a]",
		"READ [a]",
	}, "\n")

	out, _ := run(t, kvs.New(), &recordingBackuper{}, input)

	assert.Equal(t, "[(a,1)(b,2)(c,KVSERROR)]\n[(a,KVSERROR)]\n", out)
}

func TestCommandOutput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "read sorts keys",
			input:    "WRITE [(b,2)(a,1)(c,3)]\nREAD [c,a,b]",
			expected: "[(a,1)(b,2)(c,3)]\n",
		},
		{
			name:     "read never written",
			input:    "READ [x]",
			expected: "[(x,KVSERROR)]\n",
		},
		{
			name:     "read duplicates",
			input:    "WRITE [(a,1)]\nREAD [a,a]",
			expected: "[(a,1)(a,1)]\n",
		},
		{
			name:     "last write wins",
			input:    "WRITE [(a,1)]\nWRITE [(a,2)]\nREAD [a]",
			expected: "[(a,2)]\n",
		},
		{
			name:     "delete present prints nothing",
			input:    "WRITE [(a,1)]\nDELETE [a]",
			expected: "",
		},
		{
			name:     "delete reports missing in request order",
			input:    "WRITE [(b,1)]\nDELETE [z,b,c]",
			expected: "[(z,KVSMISSING)(c,KVSMISSING)]\n",
		},
		{
			name:     "delete twice",
			input:    "WRITE [(a,1)]\nDELETE [a]\nDELETE [a]",
			expected: "[(a,KVSMISSING)]\n",
		},
		{
			name:     "show in bucket order",
			input:    "WRITE [(c,3)(a,1)(b,2)]\nSHOW",
			expected: "(a, 1)\n(b, 2)\n(c, 3)\n",
		},
		{
			name:     "show empty store",
			input:    "SHOW",
			expected: "",
		},
		{
			name:     "wait prints notice",
			input:    "WAIT 1",
			expected: "Waiting...\n",
		},
		{
			name:     "wait zero is a no-op",
			input:    "WAIT 0",
			expected: "",
		},
		{
			name:     "help",
			input:    "HELP",
			expected: HelpText,
		},
		{
			name:     "comments and blanks",
			input:    "# comment\n\nREAD [a]",
			expected: "[(a,KVSERROR)]\n",
		},
		{
			name:     "invalid commands are skipped",
			input:    "NOPE\nWRITE [(a)]\nWRITE [(a,1)]\nREAD [a]",
			expected: "[(a,1)]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := run(t, kvs.New(), &recordingBackuper{}, tt.input)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestInvalidCommandIsLogged(t *testing.T) {
	_, hook := run(t, kvs.New(), &recordingBackuper{}, "BOGUS\nREAD [")

	var warnings int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == invalidCommand {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestWritePartialFailure(t *testing.T) {
	store := kvs.New()
	out, hook := run(t, store, &recordingBackuper{}, "WRITE [(a,1)(_bad,2)(b,3)]\nREAD [a,b]")

	assert.Equal(t, "[(a,1)(b,3)]\n", out)
	assert.Equal(t, 2, store.Len())

	require.NotNil(t, hook.LastEntry())
	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Failed to write keypair (_bad,2)" {
			found = true
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			assert.ErrorIs(t, entry.Data[logrus.ErrorKey].(error), kvs.ErrInvalidKey)
		}
	}
	assert.True(t, found)
}

func TestWriteSkipsBadPairs(t *testing.T) {
	long := strings.Repeat("k", kvs.MaxStringSize+1)
	input := strings.Join([]string{
		"WRITE [(a,1)(" + long + ",2)(b,3)]",
		"WRITE [(c,1)(d)(e,3)]",
		"WRITE [(f," + long + ")(g,7)]",
		"READ [a,b,c,e,f,g]",
	}, "\n")

	store := kvs.New()
	out, hook := run(t, store, &recordingBackuper{}, input)

	assert.Equal(t, "[(a,1)(b,3)(c,1)(e,3)(f,KVSERROR)(g,7)]\n", out)
	assert.Equal(t, 5, store.Len())

	failures := map[string]error{}
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.HasPrefix(entry.Message, "Failed to write keypair") {
			failures[entry.Message] = entry.Data[logrus.ErrorKey].(error)
		}
	}
	require.Len(t, failures, 3)
	assert.ErrorIs(t, failures["Failed to write keypair ("+long+",2)"], kvs.ErrInvalidKey)
	assert.ErrorIs(t, failures["Failed to write keypair (d)"], parser.ErrMalformed)
	assert.ErrorIs(t, failures["Failed to write keypair (f,"+long+")"], kvs.ErrInvalidValue)
}

func TestLongLineDoesNotAbortJob(t *testing.T) {
	input := "WRITE [(a,1)]\n" + strings.Repeat("x", 70000) + "\nREAD [a]\n"

	out, hook := run(t, kvs.New(), &recordingBackuper{}, input)

	assert.Equal(t, "[(a,1)]\n", out)

	var invalid int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == invalidCommand {
			invalid++
			assert.ErrorIs(t, entry.Data[logrus.ErrorKey].(error), parser.ErrMalformed)
		}
	}
	assert.Equal(t, 1, invalid)
}

func TestBackupCommand(t *testing.T) {
	backup := &recordingBackuper{}
	out, _ := run(t, kvs.New(), backup, "BACKUP\nWRITE [(a,1)]\nBACKUP\nBACKUP")

	assert.Empty(t, out)
	assert.Equal(t, []int{1, 2, 3}, backup.calls)
}

func TestBackupFailureContinues(t *testing.T) {
	backup := &recordingBackuper{err: errors.New("spawn failed")}
	out, hook := run(t, kvs.New(), backup, "BACKUP\nWRITE [(a,1)]\nREAD [a]")

	assert.Equal(t, "[(a,1)]\n", out)
	assert.Len(t, backup.calls, 1)

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Message == "Failed to perform backup" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestWaitSuspendsJob(t *testing.T) {
	start := time.Now()
	out, _ := run(t, kvs.New(), &recordingBackuper{}, "WAIT 50\nREAD [a]")

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, "Waiting...\n[(a,KVSERROR)]\n", out)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestOutputErrorStopsJob(t *testing.T) {
	logger, _ := test.NewNullLogger()
	in := New(kvs.New(), &recordingBackuper{}, logger)

	err := in.Run(context.Background(), types.NewJob("jobs", "a.job"),
		parser.New(strings.NewReader("READ [a]\nREAD [b]")), failingWriter{})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestConcurrentJobsShareStore(t *testing.T) {
	store := kvs.New()
	logger, _ := test.NewNullLogger()
	in := New(store, &recordingBackuper{}, logger)

	var wg sync.WaitGroup
	outputs := make([]bytes.Buffer, 4)
	for i := range outputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := "WRITE [(a,1)(b,2)]\nREAD [b,a]\nDELETE [zz]"
			err := in.Run(context.Background(), types.NewJob("jobs", "job.job"), parser.New(strings.NewReader(input)), &outputs[i])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := range outputs {
		assert.Equal(t, "[(a,1)(b,2)]\n[(zz,KVSMISSING)]\n", outputs[i].String())
	}
	assert.Equal(t, 2, store.Len())
}
