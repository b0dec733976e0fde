package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/welthapp/jobs/internal/archive"
	"github.com/welthapp/jobs/internal/config"
	"github.com/welthapp/jobs/internal/insights"
	"github.com/welthapp/jobs/internal/jobs"
	jobsinmem "github.com/welthapp/jobs/internal/jobs/inmemory"
	"github.com/welthapp/jobs/internal/ledger"
	bqledger "github.com/welthapp/jobs/internal/ledger/bigquery"
	"github.com/welthapp/jobs/internal/ledger/inmemory"
	"github.com/welthapp/jobs/internal/logger"
	"github.com/welthapp/jobs/internal/notify"
	"github.com/welthapp/jobs/internal/schedule"
	"github.com/welthapp/jobs/internal/tasks"
)

func main() {
	log := logger.New("worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select the ledger backend.
	var store ledger.Store
	switch cfg.LedgerBackend {
	case config.BackendBigQuery:
		bq, err := bqledger.NewStore(ctx, cfg.GCPProject, cfg.BigQueryDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery ledger")
		}
		defer bq.Close()
		store = bq
	default:
		log.Warn().Msg("Using in-memory ledger - data will not survive restarts")
		store = inmemory.NewStore()
	}

	// Job infrastructure: store for status visibility, queue for dispatch.
	jobStore := jobsinmem.NewStore()
	jobQueue := jobsinmem.NewQueue(jobsinmem.Options{
		BufferSize:     cfg.QueueBuffer,
		Workers:        cfg.QueueWorkers,
		ThrottleLimit:  cfg.ThrottleLimit,
		ThrottleWindow: cfg.ThrottleWindow,
		MaxRetries:     cfg.MaxRetries,
		RetryBase:      cfg.RetryBase,
	}, jobStore)

	notifier := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})

	var archiver archive.Archiver
	if cfg.GCSBucket != "" {
		archiver = archive.NewGCSArchiver(cfg.GCSBucket)
	} else {
		log.Warn().Msg("No GCS bucket configured - report archival disabled")
	}

	processor := tasks.NewProcessor(store, log)
	scanner := tasks.NewScanner(store, jobQueue, log)
	monitor := tasks.NewBudgetMonitor(store, notifier, log)
	reporter := tasks.NewReportGenerator(store, notifier, insights.NewGeminiGenerator(cfg.GeminiModel), archiver, log)

	// Start consuming recurring-transaction jobs.
	if err := jobQueue.Start(ctx, processor.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Wire the cron triggers.
	sched := schedule.New(log)

	registrations := []struct {
		name string
		spec string
		fn   schedule.TriggerFunc
	}{
		{"recurring-scan", cfg.ScanSchedule, func(ctx context.Context) (string, error) {
			n, err := scanner.Run(ctx)
			return fmt.Sprintf("published=%d", n), err
		}},
		{"budget-check", cfg.BudgetSchedule, func(ctx context.Context) (string, error) {
			res, err := monitor.Run(ctx)
			return res.String(), err
		}},
		{"monthly-report", cfg.ReportSchedule, func(ctx context.Context) (string, error) {
			res, err := reporter.Run(ctx)
			return res.String(), err
		}},
	}
	for _, r := range registrations {
		if err := sched.Register(ctx, r.name, r.spec, r.fn); err != nil {
			log.Fatal().Err(err).Msg("Failed to register trigger")
		}
		log.Info().Str("trigger", r.name).Str("spec", r.spec).Msg("Trigger registered")
	}

	sched.Start()
	log.Info().Str("backend", cfg.LedgerBackend).Msg("Worker started, waiting for triggers...")

	// Wait for interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop firing triggers, then drain in-flight jobs. The worker context
	// stays live until the drain finishes so queued jobs can still run.
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping scheduler")
	}
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	reportFailedJobs(shutdownCtx, jobStore, log)
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker exited")
}

// reportFailedJobs logs every job that reached a terminal failure, so
// permanently failed work is visible before the in-memory records are
// lost with the process.
func reportFailedJobs(ctx context.Context, store jobs.JobStore, log zerolog.Logger) {
	failed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list failed jobs")
		return
	}
	for _, job := range failed {
		log.Warn().
			Str("job_id", job.JobID).
			Str("transaction_id", job.TransactionID).
			Str("user_id", job.UserID).
			Int("retries", job.RetryCount).
			Str("error", job.Error).
			Msg("Job failed permanently")
	}
	if len(failed) > 0 {
		log.Warn().Int("count", len(failed)).Msg("Jobs with terminal failures this run")
	}
}
