package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/0xPuncker/jobkvs/internal/backup"
	"github.com/0xPuncker/jobkvs/internal/config"
	"github.com/0xPuncker/jobkvs/internal/dispatch"
	"github.com/0xPuncker/jobkvs/internal/interpreter"
	"github.com/0xPuncker/jobkvs/internal/kvs"
	"github.com/0xPuncker/jobkvs/internal/monitor"
	"github.com/0xPuncker/jobkvs/pkg/utils"
	"github.com/dimiro1/banner"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

const bannerText = `
{{ .Title "jobkvs" "" 0 }}
{{ .AnsiColor.BrightCyan }}concurrent job-driven key-value store{{ .AnsiReset }}
`

const usage = "Usage: %s [flags] <jobs_dir> <max_backups> <max_workers>\n"

func main() {
	if path, ok := backup.IsChild(); ok {
		if err := backup.RunChild(os.Stdin, path); err != nil {
			fmt.Fprintf(os.Stderr, "backup %s: %v\n", path, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	configPath := flag.String("config", "config/kvs.yaml", "path to config file")
	logLevel := flag.String("log-level", "", "override the configured log level")
	noBanner := flag.Bool("no-banner", false, "do not print the startup banner")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.ApplyArgs(flag.Args()); err != nil {
		flag.Usage()
		logger.Fatalf("Invalid arguments: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		flag.Usage()
		logger.Fatalf("Invalid arguments: %v", err)
	}

	level, _ := cfg.LogLevel()
	logger.SetLevel(level)

	if !*noBanner {
		banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))
	}

	spawner, err := backup.NewExecSpawner()
	if err != nil {
		logger.Fatalf("Failed to prepare backup process: %v", err)
	}

	if err := run(context.Background(), cfg, spawner, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

// run processes every job in the configured directory and returns once all
// jobs and all backup processes have finished. Errors are setup failures.
func run(ctx context.Context, cfg *config.Config, spawner backup.Spawner, logger *logrus.Logger) error {
	start := time.Now()

	pollInterval, err := cfg.PollInterval()
	if err != nil {
		return err
	}
	monitorInterval, err := cfg.MonitorInterval()
	if err != nil {
		return err
	}

	store := kvs.New()

	jobs, err := dispatch.Discover(cfg.Jobs.Dir)
	if err != nil {
		store.Close()
		return err
	}

	backups, err := backup.NewManager(store, spawner, cfg.Jobs.MaxBackups, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create backup manager: %w", err)
	}

	tracker := monitor.NewTracker(logger)
	pool, err := dispatch.NewPool(
		dispatch.NewQueue(),
		interpreter.New(store, backups, logger),
		cfg.Jobs.MaxWorkers,
		logger,
		dispatch.WithPollInterval(pollInterval),
		dispatch.WithTracker(tracker),
	)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	for _, job := range jobs {
		pool.Submit(job)
	}

	logger.WithFields(logrus.Fields{
		"dir":         cfg.Jobs.Dir,
		"jobs":        len(jobs),
		"workers":     cfg.Jobs.MaxWorkers,
		"max_backups": cfg.Jobs.MaxBackups,
	}).Info("Jobs discovered")

	if cfg.Monitor.Enabled {
		reporter := monitor.NewReporter(tracker, backups, monitorInterval, logger)
		if err := reporter.Start(); err != nil {
			logger.WithError(err).Warn("Progress reporter disabled")
		} else {
			defer reporter.Stop()
		}
	}

	if err := pool.Run(ctx); err != nil {
		logger.WithError(err).Error("Worker pool stopped with an error")
	}
	backups.Wait()

	if err := store.Close(); err != nil {
		logger.WithError(err).Error("Failed to release store")
	}

	stats := backups.Stats()
	logger.WithFields(logrus.Fields{
		"jobs":           tracker.Summary(),
		"backups":        stats.Completed,
		"backups_failed": stats.Failed,
		"backups_peak":   stats.Peak,
		"duration":       utils.FormatDuration(time.Since(start)),
	}).Info("Run completed")

	return nil
}
