package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Downloads DownloadsConfig `koanf:"downloads"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Transform TransformConfig `koanf:"transform"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Stats     StatsConfig     `koanf:"stats"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type AuthConfig struct {
	JWTSecret     string `koanf:"jwt_secret"`
	JWTExpiry     string `koanf:"jwt_expiry"`
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`
}

type DownloadsConfig struct {
	Dir                  string `koanf:"dir"`
	DeliveryDir          string `koanf:"delivery_dir"`
	CookieFile           string `koanf:"cookie_file"`
	MaxFileSize          int64  `koanf:"max_file_size"`
	CompressionThreshold int64  `koanf:"compression_threshold"`
}

type FetchConfig struct {
	Binary           string `koanf:"binary"`
	DefaultQuality   string `koanf:"default_quality"`
	ProgressInterval string `koanf:"progress_interval"`
	MaxAttempts      int    `koanf:"max_attempts"`
	RetryBackoff     string `koanf:"retry_backoff"`
}

type TransformConfig struct {
	Binary       string `koanf:"binary"`
	Timeout      string `koanf:"timeout"`
	CRF          string `koanf:"crf"`
	Preset       string `koanf:"preset"`
	AudioBitrate string `koanf:"audio_bitrate"`
}

type PipelineConfig struct {
	Workers int `koanf:"workers"`
}

type StatsConfig struct {
	DatabaseURL    string `koanf:"database_url"`
	MaxConnections int    `koanf:"max_connections"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads config from TOML file (if provided) then overlays env vars.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	// 2. Load TOML config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// 3. Load env vars: AVD_SERVER_PORT -> server.port,
	// AVD_AUTH_JWT_SECRET -> auth.jwt_secret. Only the section prefix maps
	// to a dot; field names keep their underscores.
	// Only set env vars that have non-empty values to avoid overriding TOML config.
	if err := k.Load(env.ProviderWithValue("AVD_", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		parts := strings.SplitN(
			strings.ToLower(strings.TrimPrefix(key, "AVD_")),
			"_", 2,
		)
		return strings.Join(parts, "."), value
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Derived defaults
	if cfg.Downloads.DeliveryDir == "" {
		cfg.Downloads.DeliveryDir = filepath.Join(cfg.Downloads.Dir, "delivered")
	}
	if cfg.Downloads.CompressionThreshold > cfg.Downloads.MaxFileSize {
		return nil, fmt.Errorf("compression threshold (%d) must not exceed max file size (%d)",
			cfg.Downloads.CompressionThreshold, cfg.Downloads.MaxFileSize)
	}

	return &cfg, nil
}

// Duration parses a duration config value, falling back when unset or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
