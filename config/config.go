// Package config loads daemon settings from an optional YAML file with
// environment variable overrides. A missing or unreadable file yields the
// defaults; startup never fails on configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DataRoot holds instance data, backups, and the registry database.
	DataRoot string `yaml:"data_root"`

	// CurseForgeAPIKey authorizes CurseForge catalog lookups; without it
	// CurseForge search is unavailable (Modrinth needs no key).
	CurseForgeAPIKey string `yaml:"curseforge_api_key"`

	// RedisAddr enables the catalog result cache when set.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// S3 offsite backup mirror. Disabled when Bucket is empty.
	S3 S3Config `yaml:"s3"`

	// Probe tuning. The ceiling is generous: modded installs can spend
	// minutes generating worlds before accepting connections.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

func Default() Config {
	return Config{
		ListenAddr:    ":8640",
		DataRoot:      "./craftdock-data",
		ProbeInterval: 5 * time.Second,
		ProbeTimeout:  10 * time.Minute,
	}
}

// Load reads path (if it exists), then applies env overrides. All errors
// degrade to defaults.
func Load(path string) Config {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		// Ignore a broken file rather than refuse to start.
		_ = yaml.Unmarshal(data, &cfg)
	}
	cfg.applyEnv()

	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = Default().ProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = Default().ProbeTimeout
	}
	return cfg
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "CRAFTDOCK_LISTEN_ADDR")
	setString(&c.DataRoot, "CRAFTDOCK_DATA_ROOT")
	setString(&c.CurseForgeAPIKey, "CF_API_KEY")
	setString(&c.RedisAddr, "REDIS_ADDRESS")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.S3.Bucket, "S3_BACKUP_BUCKET")
	setString(&c.S3.AccessKey, "S3_ACCESS_KEY")
	setString(&c.S3.SecretKey, "S3_SECRET_KEY")
	setString(&c.S3.Region, "S3_REGION")

	if v := os.Getenv("CRAFTDOCK_PROBE_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.ProbeTimeout = time.Duration(sec) * time.Second
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Save writes the configuration back to path, creating parent directories.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
