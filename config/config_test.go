package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
bookflow:
  name: "bookflow"
  version: "1.0.0"
exchange:
  rest_url: "https://api.example.com"
  stream_url: "wss://stream.example.com/ws"
  timeout: 10s
store:
  url: "http://localhost:3000"
  timeout: 5s
ingest:
  symbols:
    - "BTCUSDT"
`

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Aggregator.BucketWidth != 10 {
		t.Errorf("bucket_width = %d, want default 10", cfg.Aggregator.BucketWidth)
	}
	if cfg.Aggregator.DepthLimit != 100 {
		t.Errorf("depth_limit = %d, want default 100", cfg.Aggregator.DepthLimit)
	}
	if cfg.Ingest.DepthLevel != 20 {
		t.Errorf("depth_level = %d, want default 20", cfg.Ingest.DepthLevel)
	}
	if cfg.Ingest.Reconnect.InitialDelay != time.Second {
		t.Errorf("initial_delay = %v, want default 1s", cfg.Ingest.Reconnect.InitialDelay)
	}
}

func TestLoadConfigEnvOverridesCredentials(t *testing.T) {
	path := writeConfig(t, validConfig)

	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_SECRET_KEY", " env-secret ")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Exchange.APIKey != "env-key" {
		t.Errorf("api key = %q, want env-key", cfg.Exchange.APIKey)
	}
	if cfg.Exchange.SecretKey != "env-secret" {
		t.Errorf("secret key = %q, want trimmed env-secret", cfg.Exchange.SecretKey)
	}
}

func TestLoadConfigRejectsBadDepthLevel(t *testing.T) {
	path := writeConfig(t, validConfig+`
  depth_level: 15
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for depth_level 15")
	}
}

func TestLoadConfigRejectsMissingStore(t *testing.T) {
	path := writeConfig(t, `
bookflow:
  name: "bookflow"
  version: "1.0.0"
exchange:
  rest_url: "https://api.example.com"
  stream_url: "wss://stream.example.com/ws"
  timeout: 10s
ingest:
  symbols:
    - "BTCUSDT"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for missing store url")
	}
}

func TestLoadConfigRejectsArchiveWithoutBucket(t *testing.T) {
	path := writeConfig(t, validConfig+`
archive:
  enabled: true
  interval: 5m
  s3:
    region: "us-east-1"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for archive without bucket")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
