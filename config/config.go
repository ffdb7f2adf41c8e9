package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bookflow   BookflowConfig   `yaml:"bookflow"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Store      StoreConfig      `yaml:"store"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Report     ReportConfig     `yaml:"report"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type BookflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	RestURL   string          `yaml:"rest_url"`
	StreamURL string          `yaml:"stream_url"`
	APIKey    string          `yaml:"api_key"`
	SecretKey string          `yaml:"secret_key"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type StoreConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AggregatorConfig struct {
	BucketWidth int64 `yaml:"bucket_width"`
	DepthLimit  int   `yaml:"depth_limit"`
}

type IngestConfig struct {
	Symbols    []string        `yaml:"symbols"`
	DepthLevel int             `yaml:"depth_level"`
	Reconnect  ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Symbol  string `yaml:"symbol"`
}

type ArchiveConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Compression string        `yaml:"compression"`
	S3          S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// LoadConfig reads and validates the yaml configuration at path. Secrets
// are taken from the environment when set; the config file values act as
// development fallbacks and are never logged.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Aggregator: AggregatorConfig{
			BucketWidth: 10,
			DepthLimit:  100,
		},
		Ingest: IngestConfig{
			DepthLevel: 20,
			Reconnect: ReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
				MaxAttempts:  10,
			},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Exchange.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		config.Exchange.SecretKey = strings.TrimSpace(v)
	}

	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bookflow.Name == "" {
		return fmt.Errorf("bookflow.name is required")
	}
	if cfg.Bookflow.Version == "" {
		return fmt.Errorf("bookflow.version is required")
	}

	if cfg.Exchange.RestURL == "" {
		return fmt.Errorf("exchange.rest_url is required")
	}
	if cfg.Exchange.StreamURL == "" {
		return fmt.Errorf("exchange.stream_url is required")
	}
	if cfg.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be greater than 0")
	}

	if cfg.Store.URL == "" {
		return fmt.Errorf("store.url is required")
	}

	if cfg.Aggregator.BucketWidth <= 0 {
		return fmt.Errorf("aggregator.bucket_width must be greater than 0")
	}
	if cfg.Aggregator.DepthLimit <= 0 {
		return fmt.Errorf("aggregator.depth_limit must be greater than 0")
	}

	if len(cfg.Ingest.Symbols) == 0 {
		return fmt.Errorf("ingest.symbols must not be empty")
	}
	switch cfg.Ingest.DepthLevel {
	case 5, 10, 20:
	default:
		return fmt.Errorf("ingest.depth_level must be 5, 10 or 20")
	}
	if cfg.Ingest.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("ingest.reconnect.max_attempts must be greater than 0")
	}
	if cfg.Ingest.Reconnect.InitialDelay <= 0 || cfg.Ingest.Reconnect.MaxDelay < cfg.Ingest.Reconnect.InitialDelay {
		return fmt.Errorf("ingest.reconnect delays are invalid")
	}

	if cfg.Report.Enabled {
		if cfg.Report.Address == "" {
			return fmt.Errorf("report.address is required when the report server is enabled")
		}
		if cfg.Report.Symbol == "" {
			return fmt.Errorf("report.symbol is required when the report server is enabled")
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.Interval <= 0 {
			return fmt.Errorf("archive.interval must be greater than 0 when archiving is enabled")
		}
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when archiving is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when archiving is enabled")
		}
	}

	return nil
}
