package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/salesorg/pkg/logging"
)

const Production = "production"

const (
	CyclePolicyRefuse  = "refuse"
	CyclePolicyPartial = "partial"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fs.FileExists(file) {
			existingFiles = append(existingFiles, file)
		}
	}
	if len(existingFiles) == 0 {
		return 0, nil
	}
	return len(existingFiles), godotenv.Load(existingFiles...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"salesorg"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

// LegacyDatabaseOptions points at the database that still holds the
// per-role sales tables. Empty DSN means "not configured".
type LegacyDatabaseOptions struct {
	DSN string `env:"LEGACY_DB_DSN"`
}

// PrometheusOptions controls the textfile dump written after each batch
// command, for pickup by a node exporter textfile collector.
type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"./metrics/salesorg.prom"`
}

type OrgOptions struct {
	MaxChainDepth      int           `env:"ORG_MAX_CHAIN_DEPTH" envDefault:"64"`
	CyclePolicy        string        `env:"ORG_CYCLE_POLICY" envDefault:"refuse"`
	LockBackend        string        `env:"ORG_LOCK_BACKEND" envDefault:"memory"`
	// LockTTL is the redis lock expiry. Holders renew it every ttl/3, so it
	// bounds how long a crashed writer blocks a unit, not how long a write runs.
	LockTTL            time.Duration `env:"ORG_LOCK_TTL" envDefault:"30s"`
	CommissionCurrency string        `env:"ORG_COMMISSION_CURRENCY" envDefault:"USD"`
	MigrationLogDir    string        `env:"ORG_MIGRATION_LOG_DIR" envDefault:"./logs"`
}

func (o *OrgOptions) Validate() error {
	if o.MaxChainDepth <= 0 {
		return fmt.Errorf("ORG_MAX_CHAIN_DEPTH must be positive, got %d", o.MaxChainDepth)
	}
	if o.MaxChainDepth > 100000 {
		return fmt.Errorf("ORG_MAX_CHAIN_DEPTH too high, maximum is 100000, got %d", o.MaxChainDepth)
	}

	policy := strings.ToLower(strings.TrimSpace(o.CyclePolicy))
	if policy == "" {
		policy = CyclePolicyRefuse
	}
	switch policy {
	case CyclePolicyRefuse, CyclePolicyPartial:
	default:
		return fmt.Errorf("invalid ORG_CYCLE_POLICY=%q (expected refuse|partial)", o.CyclePolicy)
	}
	o.CyclePolicy = policy

	backend := strings.ToLower(strings.TrimSpace(o.LockBackend))
	if backend == "" {
		backend = LockBackendMemory
	}
	switch backend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("invalid ORG_LOCK_BACKEND=%q (expected memory|redis)", o.LockBackend)
	}
	o.LockBackend = backend

	if o.LockTTL <= 0 {
		return fmt.Errorf("ORG_LOCK_TTL must be positive, got %s", o.LockTTL)
	}
	o.CommissionCurrency = strings.ToUpper(strings.TrimSpace(o.CommissionCurrency))
	if o.CommissionCurrency == "" {
		o.CommissionCurrency = "USD"
	}
	return nil
}

type Configuration struct {
	Database   DatabaseOptions
	Legacy     LegacyDatabaseOptions
	Prometheus PrometheusOptions
	Org        OrgOptions

	RedisURL         string `env:"REDIS_URL" envDefault:"localhost:6379"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	// Empty LOG_PATH logs to stderr only.
	LogPath string `env:"LOG_PATH" envDefault:""`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

// Load builds a fresh configuration from the given env files, bypassing the singleton.
func Load(envFiles []string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.Org.Validate(); err != nil {
		return fmt.Errorf("org configuration error: %w", err)
	}

	if strings.TrimSpace(c.LogPath) == "" {
		c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	} else {
		f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
		if err != nil {
			return err
		}
		c.logFile = f
		c.logger = logger
	}

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
		c.logFile = nil
	}
}
