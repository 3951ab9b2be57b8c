package interpreter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/0xPuncker/jobkvs/internal/kvs"
	"github.com/0xPuncker/jobkvs/internal/parser"
	"github.com/0xPuncker/jobkvs/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	// ReadMissing is printed in place of the value of a key that is not stored.
	ReadMissing = "KVSERROR"
	// DeleteMissing marks a key that DELETE did not find.
	DeleteMissing = "KVSMISSING"
)

// HelpText is the output of the HELP command.
const HelpText = "Available commands:\n" +
	"  WRITE [(key,value)(key2,value2),...]\n" +
	"  READ [key,key2,...]\n" +
	"  DELETE [key,key2,...]\n" +
	"  SHOW\n" +
	"  WAIT <delay_ms>\n" +
	"  BACKUP\n" +
	"  HELP\n"

const invalidCommand = "Invalid command. See HELP for usage"

// Store is the subset of the key-value store used by the interpreter.
type Store interface {
	Write(key, value string) error
	Read(key string) (string, bool)
	Delete(key string) bool
	Snapshot() []kvs.Entry
}

// Backuper starts a backup of the store on behalf of a job.
type Backuper interface {
	Backup(ctx context.Context, job *types.Job) error
}

// Interpreter runs the commands of one job at a time against a shared store.
type Interpreter struct {
	store  Store
	backup Backuper
	logger *logrus.Logger
}

func New(store Store, backup Backuper, logger *logrus.Logger) *Interpreter {
	return &Interpreter{
		store:  store,
		backup: backup,
		logger: logger,
	}
}

// Run executes commands from src until it is exhausted, writing results to out.
// Command failures are logged and skipped; only write errors on out or a
// failure reading src are returned.
func (in *Interpreter) Run(ctx context.Context, job *types.Job, src parser.Source, out io.Writer) error {
	w := bufio.NewWriter(out)
	log := in.logger.WithFields(logrus.Fields{
		"job":    job.Name,
		"job_id": job.ID,
	})

	for {
		cmd := src.Next()

		switch cmd.Type {
		case parser.CmdEnd:
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return cmd.Err

		case parser.CmdEmpty:
			continue

		case parser.CmdInvalid:
			log.WithField("line", cmd.Line).WithError(cmd.Err).Warn(invalidCommand)
			continue

		case parser.CmdWrite:
			in.write(log, cmd)

		case parser.CmdRead:
			w.WriteString(in.read(cmd.Keys))

		case parser.CmdDelete:
			w.WriteString(in.delete(cmd.Keys))

		case parser.CmdShow:
			for _, e := range in.store.Snapshot() {
				w.WriteString(e.String() + "\n")
			}

		case parser.CmdWait:
			if cmd.DelayMS > 0 {
				w.WriteString("Waiting...\n")
				if err := w.Flush(); err != nil {
					return fmt.Errorf("failed to write output: %w", err)
				}
				wait(ctx, time.Duration(cmd.DelayMS)*time.Millisecond)
			}

		case parser.CmdBackup:
			if in.backup == nil {
				log.WithField("line", cmd.Line).Warn("Backups are not configured")
				break
			}
			if err := in.backup.Backup(ctx, job); err != nil {
				log.WithField("line", cmd.Line).WithError(err).Error("Failed to perform backup")
			}

		case parser.CmdHelp:
			w.WriteString(HelpText)
		}

		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
}

func (in *Interpreter) write(log *logrus.Entry, cmd parser.Command) {
	for _, pair := range cmd.Rejected {
		log.WithFields(logrus.Fields{
			"line": cmd.Line,
			"pair": pair.Text,
		}).WithError(pair.Err).Warnf("Failed to write keypair %s", pair.Text)
	}
	for i, key := range cmd.Keys {
		if err := in.store.Write(key, cmd.Values[i]); err != nil {
			log.WithFields(logrus.Fields{
				"line":  cmd.Line,
				"key":   key,
				"value": cmd.Values[i],
			}).WithError(err).Warnf("Failed to write keypair (%s,%s)", key, cmd.Values[i])
		}
	}
}

// read formats the requested keys sorted, so output depends only on the key set.
func (in *Interpreter) read(keys []string) string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteByte('[')
	for _, key := range sorted {
		value, found := in.store.Read(key)
		if !found {
			value = ReadMissing
		}
		fmt.Fprintf(&b, "(%s,%s)", key, value)
	}
	b.WriteString("]\n")
	return b.String()
}

// delete removes keys in request order and reports the ones that were absent.
func (in *Interpreter) delete(keys []string) string {
	var b strings.Builder
	for _, key := range keys {
		if in.store.Delete(key) {
			continue
		}
		if b.Len() == 0 {
			b.WriteByte('[')
		}
		fmt.Fprintf(&b, "(%s,%s)", key, DeleteMissing)
	}
	if b.Len() > 0 {
		b.WriteString("]\n")
	}
	return b.String()
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
