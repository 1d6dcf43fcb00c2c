// Package config provides a layered loader for phicore's configuration:
// a YAML base file, optional environment overlay, and environment
// variable overrides, in that precedence order.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the unified configuration for a phicore node.
type Config struct {
	Server struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		NodeID     uint64 `mapstructure:"node_id" json:"node_id"`
	} `mapstructure:"server" json:"server"`

	KMS struct {
		Provider    string `mapstructure:"provider" json:"provider"` // aws-kms, vault, kubernetes, env, ...
		KeyID       string `mapstructure:"key_id" json:"key_id"`
		Region      string `mapstructure:"region" json:"region"`
		VaultAddr   string `mapstructure:"vault_addr" json:"vault_addr"`
		CacheSize   int    `mapstructure:"cache_size" json:"cache_size"`
		CacheTTLSec int    `mapstructure:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	} `mapstructure:"kms" json:"kms"`

	Database struct {
		DSN             string `mapstructure:"dsn" json:"dsn"`
		MaxOpenConns    int    `mapstructure:"max_open_conns" json:"max_open_conns"`
		MaxIdleConns    int    `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	} `mapstructure:"database" json:"database"`

	Replica struct {
		Dir               string `mapstructure:"dir" json:"dir"`
		PBKDF2Iterations  int    `mapstructure:"pbkdf2_iterations" json:"pbkdf2_iterations"`
	} `mapstructure:"replica" json:"replica"`

	Sync struct {
		RateLimitCapacity    int     `mapstructure:"rate_limit_capacity" json:"rate_limit_capacity"`
		RateLimitRefillPerSec float64 `mapstructure:"rate_limit_refill_per_second" json:"rate_limit_refill_per_second"`
		BackoffBaseMS        int     `mapstructure:"backoff_base_ms" json:"backoff_base_ms"`
		BackoffMaxMS         int     `mapstructure:"backoff_max_ms" json:"backoff_max_ms"`
		BatchSize            int     `mapstructure:"batch_size" json:"batch_size"`
		MaxRetries           int     `mapstructure:"max_retries" json:"max_retries"`
	} `mapstructure:"sync" json:"sync"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8443")
	v.SetDefault("server.node_id", 1)
	v.SetDefault("kms.provider", "env")
	v.SetDefault("kms.cache_size", 1024)
	v.SetDefault("kms.cache_ttl_seconds", 300)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("replica.dir", "./replica-data")
	v.SetDefault("replica.pbkdf2_iterations", 600000)
	v.SetDefault("sync.rate_limit_capacity", 100)
	v.SetDefault("sync.rate_limit_refill_per_second", 10.0)
	v.SetDefault("sync.backoff_base_ms", 100)
	v.SetDefault("sync.backoff_max_ms", 5000)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("logging.level", "info")
}

// Load reads config/default.yaml, merges an optional config/<env>.yaml
// overlay, then layers PHICORE_-prefixed environment variables on top.
// The resulting configuration is stored in AppConfig and returned.
func Load(env string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.AddConfigPath("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("merge %s config: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("PHICORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &AppConfig, nil
}

// LoadDotEnv loads a standalone .env file (mirroring the teacher's
// walletserver config loader) before Load runs, for binaries that keep
// secrets outside the YAML tree entirely. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if strings.Contains(err.Error(), "no such file") {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
