// Command runjob fires one scheduled task immediately and exits. It is
// the manual escape hatch for a missed cron window or for verifying a
// deployment end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
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
	"github.com/welthapp/jobs/internal/tasks"
)

func main() {
	var (
		task    = flag.String("task", "", "task to run: scan, budget, or report")
		timeout = flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	)
	flag.Parse()

	log := logger.New("runjob")

	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: runjob -task scan|budget|report")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

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
		log.Warn().Msg("Using in-memory ledger - data will not survive this run")
		store = inmemory.NewStore()
	}

	notifier := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})

	switch *task {
	case "scan":
		// Scan publishes into a local queue whose consumer applies the
		// templates inline before we exit.
		jobStore := jobsinmem.NewStore()
		queue := jobsinmem.NewQueue(jobsinmem.Options{
			BufferSize:     cfg.QueueBuffer,
			Workers:        cfg.QueueWorkers,
			ThrottleLimit:  cfg.ThrottleLimit,
			ThrottleWindow: cfg.ThrottleWindow,
			MaxRetries:     cfg.MaxRetries,
			RetryBase:      cfg.RetryBase,
		}, jobStore)

		processor := tasks.NewProcessor(store, log)
		if err := queue.Start(ctx, processor.Handle); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job consumer")
		}

		n, err := tasks.NewScanner(store, queue, log).Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Scan failed")
		}
		log.Info().Int("published", n).Msg("Scan completed, draining queue")

		// Stop drains every published job to a terminal status before
		// returning, so the backfill is complete when we exit.
		if err := queue.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Error draining queue")
		}
		reportFailedJobs(ctx, jobStore, log)
		if err := queue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close queue")
		}

	case "budget":
		res, err := tasks.NewBudgetMonitor(store, notifier, log).Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Budget check failed")
		}
		log.Info().Str("result", res.String()).Msg("Budget check completed")

	case "report":
		var archiver archive.Archiver
		if cfg.GCSBucket != "" {
			archiver = archive.NewGCSArchiver(cfg.GCSBucket)
		}
		gen := insights.NewGeminiGenerator(cfg.GeminiModel)
		res, err := tasks.NewReportGenerator(store, notifier, gen, archiver, log).Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Report run failed")
		}
		log.Info().Str("result", res.String()).Msg("Report run completed")

	default:
		fmt.Fprintf(os.Stderr, "unknown task %q (want scan, budget, or report)\n", *task)
		os.Exit(2)
	}
}

// reportFailedJobs logs every job that reached a terminal failure before
// the in-memory records are lost with the process.
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
