package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

const EnvPrefix = "HOTELSYNC"

type Config struct {
	AppEnv      string        `envconfig:"APP_ENV" default:"prod"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	MetricsAddr string        `envconfig:"METRICS_ADDR" default:":9100"`
	MySQLDSN    string        `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/hotelsync?parseTime=true&charset=utf8mb4,utf8&loc=UTC"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPass string `envconfig:"REDIS_PASSWORD"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	// Embedded so their variables share the HOTELSYNC_ prefix directly.
	Search
	OTA
	Watcher
	Schedule
}

type Search struct {
	URLs      []string      `envconfig:"SEARCH_URLS" default:"http://localhost:9200"`
	Username  string        `envconfig:"SEARCH_USERNAME"`
	Password  string        `envconfig:"SEARCH_PASSWORD"`
	Index     string        `envconfig:"SEARCH_INDEX" default:"properties"`
	BatchSize int           `envconfig:"SEARCH_BATCH_SIZE" default:"200"`
	Workers   int           `envconfig:"SEARCH_WORKERS" default:"4"`
	Timeout   time.Duration `envconfig:"SEARCH_TIMEOUT" default:"30s"`
	// ResyncTimeout bounds a full rebuild started from the API.
	ResyncTimeout time.Duration `envconfig:"SEARCH_RESYNC_TIMEOUT" default:"10m"`
}

type OTA struct {
	Endpoint        string        `envconfig:"OTA_ENDPOINT" default:"http://localhost:8090/ota/rates"`
	RequestorID     string        `envconfig:"OTA_REQUESTOR_ID"`
	IDContext       string        `envconfig:"OTA_ID_CONTEXT" default:"hotelsync"`
	MessagePassword string        `envconfig:"OTA_MESSAGE_PASSWORD"`
	Target          string        `envconfig:"OTA_TARGET" default:"Production"`
	Version         string        `envconfig:"OTA_VERSION" default:"1.0"`
	Timeout         time.Duration `envconfig:"OTA_TIMEOUT" default:"20s"`
	RPS             int           `envconfig:"OTA_RPS" default:"5"`
	FanOut          int           `envconfig:"OTA_FAN_OUT" default:"4"`
	MaxAttempts     int           `envconfig:"OTA_MAX_ATTEMPTS" default:"8"`
	RetryBase       time.Duration `envconfig:"OTA_RETRY_BASE" default:"30s"`
	RetryMax        time.Duration `envconfig:"OTA_RETRY_MAX" default:"30m"`
}

type Watcher struct {
	Collections  []string      `envconfig:"WATCH_COLLECTIONS" default:"inventory,rooms,rate_plans,properties"`
	Consumer     string        `envconfig:"WATCH_CONSUMER" default:"syncer"`
	QueueSize    int           `envconfig:"WATCH_QUEUE_SIZE" default:"1024"`
	Overflow     string        `envconfig:"WATCH_OVERFLOW" default:"block"`
	PollInterval time.Duration `envconfig:"WATCH_POLL_INTERVAL" default:"500ms"`
	Settle       time.Duration `envconfig:"WATCH_SETTLE" default:"1s"`
	BatchSize    int           `envconfig:"WATCH_BATCH_SIZE" default:"500"`
	RetryDelay   time.Duration `envconfig:"WATCH_RETRY_DELAY" default:"5s"`
	Coalesce     time.Duration `envconfig:"WATCH_COALESCE" default:"250ms"`
	MaxBackoff   time.Duration `envconfig:"WATCH_MAX_BACKOFF" default:"30s"`
	ReplayTTL    time.Duration `envconfig:"WATCH_REPLAY_TTL" default:"24h"`
}

// Schedule keeps the payment expiry defaults (1m tick, 40m threshold).
type Schedule struct {
	PaymentInterval    time.Duration `envconfig:"PAYMENT_EXPIRY_INTERVAL" default:"1m"`
	PaymentThreshold   time.Duration `envconfig:"PAYMENT_EXPIRY_THRESHOLD" default:"40m"`
	RetryInterval      time.Duration `envconfig:"DISTRIBUTION_RETRY_INTERVAL" default:"30s"`
	RetryBatch         int           `envconfig:"DISTRIBUTION_RETRY_BATCH" default:"100"`
	RetentionInterval  time.Duration `envconfig:"CHANGELOG_RETENTION_INTERVAL" default:"1h"`
	ChangeLogRetention time.Duration `envconfig:"CHANGELOG_RETENTION" default:"168h"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, relying on environment")
	}
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	c.Watcher.Overflow = strings.ToLower(strings.TrimSpace(c.Watcher.Overflow))
	if c.Watcher.Overflow != "block" && c.Watcher.Overflow != "drop-oldest" {
		return Config{}, fmt.Errorf("parsing config: unknown overflow policy %q", c.Watcher.Overflow)
	}
	if c.OTA.RequestorID == "" {
		log.Warn().Msg("OTA_REQUESTOR_ID is empty")
	}
	return c, nil
}
