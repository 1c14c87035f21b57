package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "stockroom"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Imports  ImportsConfig
	Stock    StockConfig
	Archival ArchivalConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOCKROOM_APP_ENV" default:"dev"`
	Port         string `envconfig:"STOCKROOM_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOCKROOM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOCKROOM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	Driver string `envconfig:"STOCKROOM_DB_DRIVER" default:"sqlite"`
	// For sqlite this is the database file path; for postgres a full DSN.
	DSN string `envconfig:"STOCKROOM_DB_DSN" default:"data/stockroom.db"`

	// BusyTimeout bounds how long a writer waits for the sqlite lock before
	// the operation fails with a retryable contention error.
	BusyTimeout time.Duration `envconfig:"STOCKROOM_DB_BUSY_TIMEOUT" default:"10s"`

	MaxOpenConns    int           `envconfig:"STOCKROOM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKROOM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKROOM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKROOM_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"STOCKROOM_DB_AUTO_MIGRATE" default:"false"`
}

func (db DBConfig) validate() error {
	switch db.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported db driver %q", db.Driver)
	}
	if db.DSN == "" {
		return fmt.Errorf("STOCKROOM_DB_DSN is required")
	}
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKROOM_REDIS_URL"`
	Address      string        `envconfig:"STOCKROOM_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"STOCKROOM_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKROOM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKROOM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOCKROOM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOCKROOM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKROOM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKROOM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type ImportsConfig struct {
	UploadDir     string `envconfig:"STOCKROOM_IMPORTS_UPLOAD_DIR" default:"data/uploads"`
	NormalizedDir string `envconfig:"STOCKROOM_IMPORTS_NORMALIZED_DIR" default:"data/uploads/normalized"`

	// Allowed upload extensions, lower case, without the dot.
	AllowedExtensions []string `envconfig:"STOCKROOM_IMPORTS_ALLOWED_EXTENSIONS" default:"csv,xls,xlsx,xlsm,xltx,xltm"`

	MaxUploadBytes int64         `envconfig:"STOCKROOM_IMPORTS_MAX_UPLOAD_BYTES" default:"20971520"`
	SessionTTL     time.Duration `envconfig:"STOCKROOM_IMPORTS_SESSION_TTL" default:"30m"`

	PreviewMaxRows int `envconfig:"STOCKROOM_IMPORTS_PREVIEW_MAX_ROWS" default:"200"`
	PreviewMaxCols int `envconfig:"STOCKROOM_IMPORTS_PREVIEW_MAX_COLS" default:"12"`
}

// ExtensionAllowed reports whether the (dotless, lower-cased) extension is accepted.
func (i ImportsConfig) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range i.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

type StockConfig struct {
	// HubCode is the central location credited by imports and preferred as the
	// intermediary for routed adjustments.
	HubCode string `envconfig:"STOCKROOM_STOCK_HUB_CODE" default:"SKL-0"`
	// SinkCode is the write-off location: transfers to it decrement the source
	// and drop the credit.
	SinkCode string `envconfig:"STOCKROOM_STOCK_SINK_CODE" default:"HALL"`
}

type ArchivalConfig struct {
	WindowDays    int           `envconfig:"STOCKROOM_ARCHIVAL_WINDOW_DAYS" default:"30"`
	SweepInterval time.Duration `envconfig:"STOCKROOM_ARCHIVAL_SWEEP_INTERVAL" default:"6h"`
}
