package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"smartpark/ml"
)

const envPrefix = "SMARTPARK_"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type ModelConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type TrainingConfig struct {
	DataPath     string       `yaml:"data_path"`
	ArtifactPath string       `yaml:"artifact_path"`
	TestRatio    float64      `yaml:"test_ratio"`
	Seed         int64        `yaml:"seed"`
	Folds        int          `yaml:"folds"`
	Workers      int          `yaml:"workers"`
	Grid         ml.ParamGrid `yaml:"grid"`
	Clean        bool         `yaml:"clean"`
}

// DatabaseConfig points at the training-run ledger. An empty path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

const (
	CacheBackendLRU   = "lru"
	CacheBackendRedis = "redis"
	CacheBackendNone  = "none"
)

const (
	LogOutputStdout = "stdout"
	LogOutputStderr = "stderr"
)

type CacheConfig struct {
	Backend  string        `yaml:"backend"`
	Size     int           `yaml:"size"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, console
	Output     string `yaml:"output"` // stdout, stderr
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Default() *Config {
	defaults := ml.DefaultTrainerConfig()
	return &Config{
		Server: ServerConfig{
			Port:           5000,
			Timeout:        10 * time.Second,
			MaxBodyBytes:   1 << 20,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Model: ModelConfig{
			Type: ml.ModelTypeRandomForest,
			Path: "parking_model.json",
		},
		Training: TrainingConfig{
			DataPath:     "parking_data_cleaned.csv",
			ArtifactPath: "parking_model.json",
			TestRatio:    defaults.TestRatio,
			Seed:         defaults.Seed,
			Folds:        defaults.Folds,
			Grid:         defaults.Grid,
		},
		Cache: CacheConfig{
			Backend: CacheBackendLRU,
			Size:    4096,
			TTL:     time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     LogOutputStdout,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// SMARTPARK_* environment overrides. A missing file leaves the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs error

	if v, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid %sPORT: %w", envPrefix, err))
		} else {
			c.Server.Port = port
		}
	}
	if v, ok := lookupEnv("MODEL_PATH"); ok {
		c.Model.Path = v
		c.Training.ArtifactPath = v
	}
	if v, ok := lookupEnv("ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := lookupEnv("DATABASE_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := lookupEnv("CACHE_BACKEND"); ok {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v, ok := lookupEnv("REDIS_URL"); ok {
		c.Cache.RedisURL = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookupEnv("DATA_PATH"); ok {
		c.Training.DataPath = v
	}
	return errs
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("server.timeout must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = multierr.Append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Model.Type != ml.ModelTypeRandomForest {
		errs = multierr.Append(errs, fmt.Errorf("model.type %q not supported", c.Model.Type))
	}
	if c.Model.Path == "" {
		errs = multierr.Append(errs, errors.New("model.path is required"))
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		errs = multierr.Append(errs, fmt.Errorf("training.test_ratio %v must be in (0, 1)", c.Training.TestRatio))
	}
	if c.Training.Folds < 2 {
		errs = multierr.Append(errs, fmt.Errorf("training.folds %d must be at least 2", c.Training.Folds))
	}
	if c.Training.Workers < 0 {
		errs = multierr.Append(errs, errors.New("training.workers must not be negative"))
	}
	if err := c.Training.Grid.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("training.grid: %w", err))
	}

	switch c.Cache.Backend {
	case CacheBackendLRU:
		if c.Cache.Size <= 0 {
			errs = multierr.Append(errs, errors.New("cache.size must be positive for the lru backend"))
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			errs = multierr.Append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	case CacheBackendNone:
	default:
		errs = multierr.Append(errs, fmt.Errorf("cache.backend %q must be lru, redis or none", c.Cache.Backend))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	switch c.Log.Output {
	case LogOutputStdout, LogOutputStderr:
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.output %q must be stdout or stderr", c.Log.Output))
	}
	return errs
}

// TrainerConfig maps the training section onto the trainer settings.
func (t TrainingConfig) TrainerConfig() ml.TrainerConfig {
	return ml.TrainerConfig{
		TestRatio: t.TestRatio,
		Seed:      t.Seed,
		Folds:     t.Folds,
		Grid:      t.Grid,
		Workers:   t.Workers,
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
