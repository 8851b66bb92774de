// Package config loads gateway configuration the way the rest of this
// codebase's lineage does: a typed struct populated by viper from an
// optional file plus environment overrides, validated once at boot so
// that a bad secret_key fails fast instead of surfacing as a mysterious
// 401 later.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix viper applies to environment-variable overrides,
// e.g. STREAMGATE_REDIS_URL overrides redis_url.
const EnvPrefix = "STREAMGATE"

// Config holds every knob named in the external interface table.
type Config struct {
	ServerAddress string        `mapstructure:"server_address"`
	RedisURL      string        `mapstructure:"redis_url"`
	RedisPool     int           `mapstructure:"redis_pool"`
	MaxClients    int           `mapstructure:"max_clients"`
	APIKey        string        `mapstructure:"api_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	TTL           time.Duration `mapstructure:"ttl"`
	MetricsPort   int           `mapstructure:"metrics_port"`
	LogLevel      string        `mapstructure:"log_level"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("redis_pool", 4)
	v.SetDefault("max_clients", 20)
	v.SetDefault("ttl", "600s")
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from CONFIG_PATH (default config/streamgate.yaml,
// missing file tolerated) and then applies STREAMGATE_-prefixed environment
// overrides, matching the file-then-env layering used throughout this
// codebase's config loaders.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/streamgate.yaml"
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"server_address", "redis_url", "redis_pool", "max_clients",
		"api_key", "secret_key", "ttl", "metrics_port", "log_level",
	} {
		_ = v.BindEnv(key)
	}
	// ttl is given in seconds; a bare integer such as "600" is converted
	// here, while a duration string such as "10m" is parsed by Unmarshal.
	if secs, err := strconv.ParseInt(v.GetString("ttl"), 10, 64); err == nil {
		v.Set("ttl", time.Duration(secs)*time.Second)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the invariants the rest of the gateway assumes hold:
// a 32-byte hex secret key and non-empty required fields.
func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if len(c.SecretKey) != 64 {
		return fmt.Errorf("secret_key must be 64 hex characters (32 bytes), got %d chars", len(c.SecretKey))
	}
	if _, err := hex.DecodeString(c.SecretKey); err != nil {
		return fmt.Errorf("secret_key must be valid hex: %w", err)
	}
	if c.RedisPool <= 0 {
		return fmt.Errorf("redis_pool must be positive")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}
	return nil
}

// SecretKeyBytes decodes the validated hex secret key into raw AES-256 key
// material. Callers must call Validate (directly or via Load) first.
func (c *Config) SecretKeyBytes() []byte {
	b, _ := hex.DecodeString(c.SecretKey)
	return b
}
