// Package config loads the ingestion core's runtime configuration from an
// optional YAML file, layered with environment-variable overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration tree for the ingestion core.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Seal       SealConfig       `yaml:"seal"`
	Commerce   CommerceConfig   `yaml:"commerce"`
	Mail       MailConfig       `yaml:"mail"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Health     HealthConfig     `yaml:"health"`
	Blob       BlobConfig       `yaml:"blob"`
}

type ServerConfig struct {
	Port              string `yaml:"port"`
	Env               string `yaml:"env"`
	RequestDeadlineMs int    `yaml:"request_deadline_ms"`
}

type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	CredentialTTLMs int    `yaml:"credential_cache_ttl_ms"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SealConfig carries the master key used to derive per-purpose AEAD
// subkeys (internal/seal). Never logged.
type SealConfig struct {
	MasterKeyHex     string `yaml:"-"` // TOKEN_ENCRYPTION_KEY only, never from YAML
	PreviousKeyHex   string `yaml:"-"` // previous key during rotation grace window
	RotationGraceSec int    `yaml:"rotation_grace_sec"`
}

type CommerceConfig struct {
	ClientID        string   `yaml:"-"`
	ClientSecret    string   `yaml:"-"`
	APIVersion      string   `yaml:"api_version"`
	AppSecret       string   `yaml:"-"` // fallback webhook secret
	Scopes          []string `yaml:"scopes"`
	RedirectURL     string   `yaml:"redirect_url"`
	CallbackBaseURL string   `yaml:"callback_base_url"`
}

type MailConfig struct {
	WebhookSecret      string `yaml:"-"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type ClassifierConfig struct {
	SpamThreshold float64 `yaml:"spam_threshold"`
}

type JobsConfig struct {
	Backend               string `yaml:"backend"` // "memory", "cloudtasks", or "pubsub"
	EnqueueTimeoutMs      int    `yaml:"enqueue_timeout_ms"`
	OutboxFlushSec        int    `yaml:"outbox_flush_sec"`
	OutboxMaxAttempts     int    `yaml:"outbox_max_attempts"`
	CloudTasksQueue       string `yaml:"cloud_tasks_queue"`
	CloudTasksWorkerURL   string `yaml:"cloud_tasks_worker_url"`
	CloudTasksServiceAcct string `yaml:"-"`
	PubSubProjectID       string `yaml:"-"`
}

type HealthConfig struct {
	MaxRetryCount    int `yaml:"max_retry_count"`
	RetryCutoffHours int `yaml:"retry_cutoff_hours"`
	FailureThreshold int `yaml:"failure_threshold"`
}

// BlobConfig carries the Supabase storage project receipts attachments
// are uploaded to (internal/blob).
type BlobConfig struct {
	ProjectURL     string `yaml:"-"`
	ServiceRoleKey string `yaml:"-"`
	Bucket         string `yaml:"bucket"`
}

// Defaults returns a Config populated with the spec's documented defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			Env:               "development",
			RequestDeadlineMs: 25_000,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			CredentialTTLMs: 60_000,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Seal: SealConfig{
			RotationGraceSec: 24 * 60 * 60,
		},
		Commerce: CommerceConfig{
			APIVersion: "2026-01",
			Scopes:     []string{"read_orders", "write_orders", "read_products", "read_customers"},
		},
		Mail: MailConfig{
			RateLimitPerMinute: 300,
		},
		Classifier: ClassifierConfig{
			SpamThreshold: 0.5,
		},
		Jobs: JobsConfig{
			Backend:           "memory",
			EnqueueTimeoutMs:  2_000,
			OutboxFlushSec:    15,
			OutboxMaxAttempts: 8,
			CloudTasksQueue:   "ingest-jobs",
		},
		Health: HealthConfig{
			MaxRetryCount:    5,
			RetryCutoffHours: 72,
			FailureThreshold: 5,
		},
		Blob: BlobConfig{
			Bucket: "receipts",
		},
	}
}

// ApplyEnvOverrides layers process-environment values over cfg, matching
// the variable names spec.md §6 enumerates.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("REQUEST_DEADLINE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RequestDeadlineMs = n
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CREDENTIAL_CACHE_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.CredentialTTLMs = n
		}
	}
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	cfg.Seal.MasterKeyHex = os.Getenv("TOKEN_ENCRYPTION_KEY")
	cfg.Seal.PreviousKeyHex = os.Getenv("TOKEN_ENCRYPTION_KEY_PREVIOUS")
	cfg.Commerce.ClientID = os.Getenv("COMMERCE_CLIENT_ID")
	cfg.Commerce.ClientSecret = os.Getenv("COMMERCE_CLIENT_SECRET")
	if v := os.Getenv("COMMERCE_API_VERSION"); v != "" {
		cfg.Commerce.APIVersion = v
	}
	cfg.Commerce.AppSecret = os.Getenv("COMMERCE_APP_SECRET")
	if v := os.Getenv("COMMERCE_REDIRECT_URL"); v != "" {
		cfg.Commerce.RedirectURL = v
	}
	if v := os.Getenv("INGEST_CALLBACK_BASE_URL"); v != "" {
		cfg.Commerce.CallbackBaseURL = v
	}
	cfg.Mail.WebhookSecret = os.Getenv("EMAIL_WEBHOOK_SECRET")
	if v := os.Getenv("SPAM_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Classifier.SpamThreshold = f
		}
	}
	if v := os.Getenv("JOBS_BACKEND"); v != "" {
		cfg.Jobs.Backend = v
	}
	if v := os.Getenv("CLOUD_TASKS_QUEUE"); v != "" {
		cfg.Jobs.CloudTasksQueue = v
	}
	if v := os.Getenv("CLOUD_TASKS_WORKER_URL"); v != "" {
		cfg.Jobs.CloudTasksWorkerURL = v
	}
	cfg.Jobs.CloudTasksServiceAcct = os.Getenv("CLOUD_TASKS_SERVICE_ACCOUNT")
	cfg.Jobs.PubSubProjectID = os.Getenv("GCP_PROJECT_ID")
	cfg.Blob.ProjectURL = os.Getenv("SUPABASE_URL")
	cfg.Blob.ServiceRoleKey = os.Getenv("SUPABASE_SERVICE_KEY")
	if v := os.Getenv("RECEIPTS_BUCKET"); v != "" {
		cfg.Blob.Bucket = v
	}
}

// RequestDeadline returns the configured per-request deadline as a duration.
func (c *Config) RequestDeadline() time.Duration {
	return time.Duration(c.Server.RequestDeadlineMs) * time.Millisecond
}

// CredentialCacheTTL returns the tenant credential cache TTL as a duration.
func (c *Config) CredentialCacheTTL() time.Duration {
	return time.Duration(c.Database.CredentialTTLMs) * time.Millisecond
}

// EnqueueTimeout returns the job dispatcher's per-enqueue deadline.
func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Jobs.EnqueueTimeoutMs) * time.Millisecond
}
