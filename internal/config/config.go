// Package config loads worker settings from the environment. Every
// knob has a default, so a bare `worker` run against the in-memory
// ledger works with no environment at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Ledger backend names accepted in LEDGER_BACKEND.
const (
	BackendMemory   = "memory"
	BackendBigQuery = "bigquery"
)

// Config carries all worker settings.
type Config struct {
	// LedgerBackend selects the persistence layer: "memory" or "bigquery".
	LedgerBackend string

	// BigQuery connection, required when LedgerBackend is "bigquery".
	GCPProject      string
	BigQueryDataset string

	// GCSBucket enables report archival when non-empty.
	GCSBucket string

	// GeminiModel is the insight-generation model name.
	GeminiModel string

	// SMTP relay for alerts and reports.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Queue tuning.
	QueueBuffer    int
	QueueWorkers   int
	ThrottleLimit  int
	ThrottleWindow time.Duration
	MaxRetries     int
	RetryBase      time.Duration

	// Cron specs for the three triggers.
	ScanSchedule   string
	BudgetSchedule string
	ReportSchedule string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		LedgerBackend:   getenv("LEDGER_BACKEND", BackendMemory),
		GCPProject:      getenv("GOOGLE_CLOUD_PROJECT", ""),
		BigQueryDataset: getenv("BIGQUERY_DATASET", "welth"),
		GCSBucket:       getenv("GCS_BUCKET", ""),
		GeminiModel:     getenv("GEMINI_MODEL", "gemini-1.5-flash"),
		SMTPHost:        getenv("SMTP_HOST", "localhost"),
		SMTPUsername:    getenv("SMTP_USERNAME", ""),
		SMTPPassword:    getenv("SMTP_PASSWORD", ""),
		SMTPFrom:        getenv("SMTP_FROM", "welth@example.com"),
		ScanSchedule:    getenv("SCAN_SCHEDULE", "0 0 * * *"),
		BudgetSchedule:  getenv("BUDGET_SCHEDULE", "0 */6 * * *"),
		ReportSchedule:  getenv("REPORT_SCHEDULE", "0 0 1 * *"),
	}

	var err error
	if cfg.SMTPPort, err = getenvInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.QueueBuffer, err = getenvInt("QUEUE_BUFFER", 100); err != nil {
		return nil, err
	}
	if cfg.QueueWorkers, err = getenvInt("QUEUE_WORKERS", 5); err != nil {
		return nil, err
	}
	if cfg.ThrottleLimit, err = getenvInt("THROTTLE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.ThrottleWindow, err = getenvDuration("THROTTLE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getenvInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBase, err = getenvDuration("RETRY_BASE", time.Second); err != nil {
		return nil, err
	}

	switch cfg.LedgerBackend {
	case BackendMemory:
	case BackendBigQuery:
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("config: GOOGLE_CLOUD_PROJECT is required with LEDGER_BACKEND=bigquery")
		}
	default:
		return nil, fmt.Errorf("config: unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a duration", key, v)
	}
	return d, nil
}
