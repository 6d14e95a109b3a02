package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "FLASHSALE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Admission   AdmissionConfig
	Reservation ReservationConfig
	Worker      WorkerConfig
	Reconciler  ReconcilerConfig
	AdminAuth   AdminAuthConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FLASHSALE_APP_ENV" required:"true"`
	Port         string `envconfig:"FLASHSALE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FLASHSALE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FLASHSALE_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"FLASHSALE_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN             string        `envconfig:"FLASHSALE_DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"FLASHSALE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FLASHSALE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FLASHSALE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FLASHSALE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FLASHSALE_REDIS_URL"`
	Address      string        `envconfig:"FLASHSALE_REDIS_ADDR"`
	Password     string        `envconfig:"FLASHSALE_REDIS_PASSWORD"`
	DB           int           `envconfig:"FLASHSALE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FLASHSALE_REDIS_POOL_SIZE" default:"50"`
	MinIdleConns int           `envconfig:"FLASHSALE_REDIS_MIN_IDLE_CONNS" default:"4"`
	DialTimeout  time.Duration `envconfig:"FLASHSALE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FLASHSALE_REDIS_READ_TIMEOUT" default:"1s"`
	WriteTimeout time.Duration `envconfig:"FLASHSALE_REDIS_WRITE_TIMEOUT" default:"1s"`
}

// AdmissionConfig carries the throttle tiers applied before the reservation
// engine. A zero limit disables that tier.
type AdmissionConfig struct {
	GlobalWindow time.Duration `envconfig:"FLASHSALE_ADMISSION_GLOBAL_WINDOW" default:"1s"`
	GlobalLimit  int64         `envconfig:"FLASHSALE_ADMISSION_GLOBAL_LIMIT" default:"5000"`
	IPWindow     time.Duration `envconfig:"FLASHSALE_ADMISSION_IP_WINDOW" default:"10s"`
	IPLimit      int64         `envconfig:"FLASHSALE_ADMISSION_IP_LIMIT" default:"20"`
	UserBurst    int64         `envconfig:"FLASHSALE_ADMISSION_USER_BURST" default:"1"`
}

type ReservationConfig struct {
	TTL         time.Duration `envconfig:"FLASHSALE_RESERVATION_TTL" default:"15m"`
	EventStream string        `envconfig:"FLASHSALE_RESERVATION_EVENT_STREAM" default:"fs:events"`
	EventGroup  string        `envconfig:"FLASHSALE_RESERVATION_EVENT_GROUP" default:"materializers"`
}

type WorkerConfig struct {
	PoolSize          int           `envconfig:"FLASHSALE_WORKER_POOL_SIZE" default:"4"`
	BatchSize         int64         `envconfig:"FLASHSALE_WORKER_BATCH_SIZE" default:"16"`
	BlockTimeout      time.Duration `envconfig:"FLASHSALE_WORKER_BLOCK_TIMEOUT" default:"5s"`
	VisibilityTimeout time.Duration `envconfig:"FLASHSALE_WORKER_VISIBILITY_TIMEOUT" default:"30s"`
	MaxRetries        int64         `envconfig:"FLASHSALE_WORKER_MAX_RETRIES" default:"5"`
	BackoffBase       time.Duration `envconfig:"FLASHSALE_WORKER_BACKOFF_BASE" default:"200ms"`
	BackoffMax        time.Duration `envconfig:"FLASHSALE_WORKER_BACKOFF_MAX" default:"10s"`
}

type ReconcilerConfig struct {
	Interval       time.Duration `envconfig:"FLASHSALE_RECONCILE_INTERVAL" default:"60s"`
	DriftThreshold int64         `envconfig:"FLASHSALE_RECONCILE_DRIFT_THRESHOLD" default:"5"`
	GracePeriod    time.Duration `envconfig:"FLASHSALE_RECONCILE_GRACE_PERIOD" default:"1h"`
	LockTTL        time.Duration `envconfig:"FLASHSALE_RECONCILE_LOCK_TTL" default:"5m"`
}

type AdminAuthConfig struct {
	JWTSecret string `envconfig:"FLASHSALE_ADMIN_JWT_SECRET"`
	Issuer    string `envconfig:"FLASHSALE_ADMIN_JWT_ISSUER" default:"flashsale"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FLASHSALE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	AlertsTopic string `envconfig:"FLASHSALE_PUBSUB_ALERTS_TOPIC"`
}

// AlertsEnabled reports whether the operational alert channel is configured.
func (c *Config) AlertsEnabled() bool {
	return strings.TrimSpace(c.GCP.ProjectID) != "" && strings.TrimSpace(c.PubSub.AlertsTopic) != ""
}
