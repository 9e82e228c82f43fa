package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mediaqueue/internal/domain"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool
	APIKey      string
	MetricsAddr string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	Scheduler SchedulerConfig
	Worker    WorkerConfig
	Alerts    AlertConfig
}

// SchedulerConfig carries the knobs the scheduler core consumes.
type SchedulerConfig struct {
	HeartbeatInterval        time.Duration
	ReaperTimeout            time.Duration
	ReaperInterval           time.Duration
	ReaperBatchSize          int
	DefaultMaxAttempts       int
	MaxAttempts              map[domain.JobType]int
	Priorities               map[domain.JobType]domain.PriorityBand
	VideoExtensions          []string
	BackoffBase              time.Duration
	BackoffMax               time.Duration
	DependencyDelay          time.Duration
	DependencyMaxAttempts    int
	DependencyAlertThreshold int
	Locality                 domain.Locality
	ReclaimStaleOnClaim      bool
	Schedules                map[domain.JobType]string
	RetentionDone            time.Duration
	RetentionFailed          time.Duration
	PruneInterval            time.Duration
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	PollJitter   time.Duration
	IncludeTypes []domain.JobType
	ExcludeTypes []domain.JobType
	Handlers     map[domain.JobType]string
	RunReaper    bool
}

// AlertConfig selects the external sinks for terminal failure alerts.
type AlertConfig struct {
	AMQPURL      string
	AMQPExchange string
	NATSURL      string
	NATSSubject  string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             getEnv("PORT", "8080"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/jobs.db"),
		AutoMigrate:      getEnvBool("AUTO_MIGRATE", true),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		Scheduler: SchedulerConfig{
			HeartbeatInterval:        time.Second * time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 60)),
			ReaperTimeout:            time.Second * time.Duration(getEnvInt("REAPER_TIMEOUT_SECONDS", 300)),
			ReaperInterval:           time.Second * time.Duration(getEnvInt("REAPER_INTERVAL_SECONDS", 30)),
			ReaperBatchSize:          getEnvInt("REAPER_BATCH_SIZE", 100),
			DefaultMaxAttempts:       getEnvInt("DEFAULT_MAX_ATTEMPTS", 5),
			BackoffBase:              time.Second * time.Duration(getEnvInt("BACKOFF_BASE_SECONDS", 10)),
			BackoffMax:               time.Second * time.Duration(getEnvInt("BACKOFF_MAX_SECONDS", 3600)),
			DependencyDelay:          time.Second * time.Duration(getEnvInt("DEPENDENCY_DELAY_SECONDS", 30)),
			DependencyMaxAttempts:    getEnvInt("DEPENDENCY_MAX_ATTEMPTS", 20),
			DependencyAlertThreshold: getEnvInt("DEPENDENCY_ALERT_THRESHOLD", 10),
			ReclaimStaleOnClaim:      getEnvBool("CLAIM_RECLAIM_STALE", true),
			VideoExtensions:          getEnvList("VIDEO_EXTENSIONS"),
			RetentionDone:            time.Hour * time.Duration(getEnvInt("RETENTION_DONE_HOURS", 168)),
			RetentionFailed:          time.Hour * time.Duration(getEnvInt("RETENTION_FAILED_HOURS", 720)),
			PruneInterval:            time.Minute * time.Duration(getEnvInt("PRUNE_INTERVAL_MINUTES", 60)),
			MaxAttempts:              map[domain.JobType]int{},
			Priorities:               map[domain.JobType]domain.PriorityBand{},
			Schedules:                map[domain.JobType]string{},
		},
		Worker: WorkerConfig{
			ID:           strings.TrimSpace(os.Getenv("WORKER_ID")),
			Concurrency:  getEnvInt("WORKER_CONCURRENCY", 1),
			PollInterval: time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 3000)),
			PollJitter:   time.Millisecond * time.Duration(getEnvInt("POLL_JITTER_MS", 1000)),
			RunReaper:    getEnvBool("WORKER_RUN_REAPER", false),
			Handlers:     map[domain.JobType]string{},
		},
		Alerts: AlertConfig{
			AMQPURL:      os.Getenv("ALERT_AMQP_URL"),
			AMQPExchange: getEnv("ALERT_AMQP_EXCHANGE", "jobs.alerts"),
			NATSURL:      os.Getenv("ALERT_NATS_URL"),
			NATSSubject:  getEnv("ALERT_NATS_SUBJECT", "jobs.alerts"),
		},
	}

	locality, err := domain.ParseLocality(os.Getenv("CLAIM_LOCALITY"))
	if err != nil {
		return nil, err
	}
	cfg.Scheduler.Locality = locality

	if cfg.Worker.IncludeTypes, err = domain.ParseJobTypes(os.Getenv("WORKER_INCLUDE_TYPES")); err != nil {
		return nil, fmt.Errorf("WORKER_INCLUDE_TYPES: %w", err)
	}
	if cfg.Worker.ExcludeTypes, err = domain.ParseJobTypes(os.Getenv("WORKER_EXCLUDE_TYPES")); err != nil {
		return nil, fmt.Errorf("WORKER_EXCLUDE_TYPES: %w", err)
	}

	bands := domain.DefaultPriorityBands()
	for _, t := range domain.AllJobTypes() {
		suffix := t.EnvSuffix()
		if v := getEnvInt("MAX_ATTEMPTS_"+suffix, 0); v > 0 {
			cfg.Scheduler.MaxAttempts[t] = v
		}
		if v, ok := lookupEnvInt("PRIORITY_" + suffix); ok {
			cfg.Scheduler.Priorities[t] = domain.PriorityBand{Default: v, Video: v}
		}
		if v, ok := lookupEnvInt("PRIORITY_VIDEO_" + suffix); ok {
			band, seen := cfg.Scheduler.Priorities[t]
			if !seen {
				band = bands[t]
			}
			band.Video = v
			cfg.Scheduler.Priorities[t] = band
		}
		if spec := strings.TrimSpace(os.Getenv("SCHEDULE_" + suffix)); spec != "" {
			cfg.Scheduler.Schedules[t] = spec
		}
		if cmd := strings.TrimSpace(os.Getenv("WORKER_HANDLER_" + suffix)); cmd != "" {
			cfg.Worker.Handlers[t] = cmd
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the relationships between settings.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	s := c.Scheduler
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be positive")
	}
	if s.ReaperTimeout < 3*s.HeartbeatInterval {
		return fmt.Errorf("REAPER_TIMEOUT_SECONDS (%s) must be at least three heartbeat intervals (%s)", s.ReaperTimeout, 3*s.HeartbeatInterval)
	}
	if s.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL_SECONDS must be positive")
	}
	if s.DefaultMaxAttempts < 1 {
		return fmt.Errorf("DEFAULT_MAX_ATTEMPTS must be at least 1")
	}
	if s.DependencyMaxAttempts < 1 {
		return fmt.Errorf("DEPENDENCY_MAX_ATTEMPTS must be at least 1")
	}
	if s.BackoffBase <= 0 || s.BackoffMax < s.BackoffBase {
		return fmt.Errorf("BACKOFF_BASE_SECONDS must be positive and not exceed BACKOFF_MAX_SECONDS")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := lookupEnvInt(key); ok {
		return v
	}
	return fallback
}

func lookupEnvInt(key string) (int, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
