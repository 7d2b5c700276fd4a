package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("does-not-exist.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Model.Path != "parking_model.json" || cfg.Training.DataPath != "parking_data_cleaned.csv" {
		t.Errorf("unexpected paths: %+v %+v", cfg.Model, cfg.Training)
	}
	if cfg.Training.Grid.Size() != 27 {
		t.Errorf("grid size = %d, want 27", cfg.Training.Grid.Size())
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("allowed origins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 8081
  timeout: 3s
  allowed_origins: ["https://app.example.com", "http://localhost:3000"]
training:
  folds: 3
  grid:
    n_estimators: [10]
    max_depth: [0, 5]
    min_samples_split: [2]
cache:
  backend: none
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8081 || cfg.Server.Timeout != 3*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("allowed origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Training.Folds != 3 || cfg.Training.Grid.Size() != 2 {
		t.Errorf("training = %+v", cfg.Training)
	}
	// untouched keys keep their defaults
	if cfg.Training.Seed != 42 || cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("defaults lost: seed=%d max_body=%d", cfg.Training.Seed, cfg.Server.MaxBodyBytes)
	}
	if cfg.Log.Format != "console" || cfg.Cache.Backend != CacheBackendNone {
		t.Errorf("log/cache = %+v %+v", cfg.Log, cfg.Cache)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "config.yaml", "server: [not, a, map")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SMARTPARK_PORT", "9090")
	t.Setenv("SMARTPARK_MODEL_PATH", "/models/current.json")
	t.Setenv("SMARTPARK_ALLOWED_ORIGINS", " https://a.example.com , https://b.example.com,")
	t.Setenv("SMARTPARK_CACHE_BACKEND", "REDIS")
	t.Setenv("SMARTPARK_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Model.Path != "/models/current.json" || cfg.Training.ArtifactPath != "/models/current.json" {
		t.Errorf("model path not overridden: %q %q", cfg.Model.Path, cfg.Training.ArtifactPath)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if strings.Join(cfg.Server.AllowedOrigins, ",") != strings.Join(want, ",") {
		t.Errorf("allowed origins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Cache.Backend != CacheBackendRedis {
		t.Errorf("cache backend = %q", cfg.Cache.Backend)
	}
}

func TestEnvInvalidPort(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SMARTPARK_PORT", "eighty")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestDotEnv(t *testing.T) {
	const key = "SMARTPARK_DATA_PATH"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", key+"=/data/from-dotenv.csv\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Training.DataPath != "/data/from-dotenv.csv" {
		t.Errorf("data path = %q", cfg.Training.DataPath)
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Training.TestRatio = 1.5
	cfg.Cache.Backend = "memcached"
	cfg.Log.Format = "xml"
	cfg.Log.Output = "syslog"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := len(multierr.Errors(err)); got != 5 {
		t.Errorf("got %d errors, want 5: %v", got, err)
	}
}

func TestValidateRedisNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = CacheBackendRedis

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis backend without url")
	}
}

func TestTrainerConfig(t *testing.T) {
	cfg := Default()
	cfg.Training.Workers = 3

	tc := cfg.Training.TrainerConfig()
	if tc.TestRatio != 0.2 || tc.Seed != 42 || tc.Folds != 5 || tc.Workers != 3 {
		t.Errorf("unexpected trainer config: %+v", tc)
	}
}
