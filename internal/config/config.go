package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	envPrefix = "STUDYHUB"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Extraction  ExtractionConfig          `mapstructure:"extraction"`
	Attachments AttachmentConfig          `mapstructure:"attachments"`
	ObjectStore ObjectStoreConfig         `mapstructure:"object_store"`
	Auth        AuthConfig                `mapstructure:"auth"`
}

type BasicConfig struct {
	ServerAddress string `mapstructure:"server_address"`
	// Environment gates operator-only features; "production" disables persona logins.
	Environment   string `mapstructure:"environment"`
	Database      string `mapstructure:"database"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	// APIKeyParam names an SSM parameter holding the key when APIKey is empty.
	APIKeyParam string `mapstructure:"api_key_param"`
	// Region is the AWS region of the SSM parameter; empty falls back to the SDK's chain.
	Region string `mapstructure:"region"`
}

type ExtractionConfig struct {
	Provider      string        `mapstructure:"provider"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Burst         int           `mapstructure:"burst"`
}

type AttachmentConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type ObjectStoreConfig struct {
	Driver       string `mapstructure:"driver"`
	BaseDir      string `mapstructure:"base_dir"`
	SigningKey   string `mapstructure:"signing_key"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type AuthConfig struct {
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	MagicLinkTTL time.Duration `mapstructure:"magic_link_ttl"`
}

// IsProduction reports whether the process runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.BasicConfig.Environment), EnvProduction)
}

// Provider returns the provider entry selected for extraction, if any.
func (c *Config) Provider() (string, ProviderConfig, bool) {
	name := strings.TrimSpace(c.Extraction.Provider)
	if name == "" {
		return "", ProviderConfig{}, false
	}
	p, ok := c.Providers[name]
	return name, p, ok
}

// Load reads configuration from the provided path (defaults to config.json) and applies
// STUDYHUB_* environment overrides. A missing default file is not an error; a missing
// explicit file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	loadDotEnv(filepath.Join(filepath.Dir(absPath), ".env"))

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if explicit {
				return nil, fmt.Errorf("open config %s: %w", absPath, err)
			}
		default:
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDatabaseEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if db, ok := cfg.Databases[cfg.BasicConfig.Database]; ok && isSQLite(cfg.BasicConfig.Database) {
		if db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[cfg.BasicConfig.Database] = db
		}
	}
	return &cfg, nil
}

// Validate checks that the settings every binary depends on are present.
func (c *Config) Validate() error {
	driver := c.BasicConfig.Database
	if driver == "" {
		return errors.New("basic_config.database must be configured")
	}
	db, ok := c.Databases[driver]
	if !ok {
		return fmt.Errorf("database config for %s not found", driver)
	}
	if db.DSN == "" && db.Host == "" {
		return fmt.Errorf("database %s needs a dsn or host", driver)
	}
	switch c.ObjectStore.Driver {
	case "local":
		if c.ObjectStore.BaseDir == "" {
			return errors.New("object_store.base_dir must be configured")
		}
	case "s3":
		if c.ObjectStore.Bucket == "" {
			return errors.New("object_store.bucket must be configured")
		}
	default:
		return fmt.Errorf("unsupported object store driver: %s", c.ObjectStore.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.environment", EnvDevelopment)
	v.SetDefault("basic_config.database", "sqlite3")
	v.SetDefault("basic_config.public_base_url", "http://localhost:8090")
	v.SetDefault("basic_config.log_level", "info")
	v.SetDefault("basic_config.log_format", "json")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("extraction.provider", "")
	v.SetDefault("extraction.timeout", 60*time.Second)
	v.SetDefault("extraction.workers", 4)
	v.SetDefault("extraction.queue_size", 32)
	v.SetDefault("extraction.rate_per_minute", 10)
	v.SetDefault("extraction.burst", 3)

	v.SetDefault("attachments.retention_days", 7)
	v.SetDefault("attachments.sweep_interval", time.Duration(0))

	v.SetDefault("object_store.driver", "local")
	v.SetDefault("object_store.base_dir", "./data/uploads")
	v.SetDefault("object_store.signing_key", "")
	v.SetDefault("object_store.bucket", "")
	v.SetDefault("object_store.region", "")
	v.SetDefault("object_store.endpoint", "")
	v.SetDefault("object_store.use_path_style", false)

	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.magic_link_ttl", time.Hour)
}

// applyDatabaseEnv lets STUDYHUB_DATABASE_DSN override the selected driver's DSN; viper
// cannot bind env vars onto map entries that do not exist yet.
func applyDatabaseEnv(cfg *Config) {
	dsn := strings.TrimSpace(os.Getenv(envPrefix + "_DATABASE_DSN"))
	if dsn == "" {
		return
	}
	if cfg.Databases == nil {
		cfg.Databases = make(map[string]DatabaseConfig)
	}
	db := cfg.Databases[cfg.BasicConfig.Database]
	db.DSN = dsn
	cfg.Databases[cfg.BasicConfig.Database] = db
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// Values already present in the environment win.
	_ = godotenv.Load(path)
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
