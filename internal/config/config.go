// Package config loads runtime configuration. Precedence: environment
// (PAYVAULT_*) over config file over built-in defaults. A missing file is
// fine; a file that exists but does not parse is not.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the service.
type Config struct {
	Addr         string `mapstructure:"addr"`
	CORSOrigin   string `mapstructure:"cors_origin"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`

	PGDSN     string `mapstructure:"pg_dsn"`
	RedisAddr string `mapstructure:"redis_addr"`

	AuthSecret string        `mapstructure:"auth_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`

	Pepper            string `mapstructure:"pepper"`
	HashStrategy      string `mapstructure:"hash_strategy"`
	HashWorkers       int    `mapstructure:"hash_workers"`
	BcryptCost        int    `mapstructure:"bcrypt_cost"`
	Argon2Memory      uint32 `mapstructure:"argon2_memory"`
	Argon2Time        uint32 `mapstructure:"argon2_time"`
	Argon2Parallelism uint8  `mapstructure:"argon2_parallelism"`

	QuotaWindow time.Duration `mapstructure:"quota_window"`
	QuotaMax    int           `mapstructure:"quota_max"`

	LoginThreshold int           `mapstructure:"login_threshold"`
	LoginWindow    time.Duration `mapstructure:"login_window"`
	LoginLockout   time.Duration `mapstructure:"login_lockout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("cors_origin", "")
	v.SetDefault("max_body_bytes", int64(64*1024))

	v.SetDefault("pg_dsn", "")
	v.SetDefault("redis_addr", "")

	v.SetDefault("auth_secret", "")
	v.SetDefault("token_ttl", 2*time.Hour)

	v.SetDefault("pepper", "")
	v.SetDefault("hash_strategy", "argon2id")
	v.SetDefault("hash_workers", 0)
	v.SetDefault("bcrypt_cost", 12)
	v.SetDefault("argon2_memory", 64*1024)
	v.SetDefault("argon2_time", 3)
	v.SetDefault("argon2_parallelism", 2)

	v.SetDefault("quota_window", time.Minute)
	v.SetDefault("quota_max", 100)

	v.SetDefault("login_threshold", 5)
	v.SetDefault("login_window", 15*time.Minute)
	v.SetDefault("login_lockout", 15*time.Minute)
}

// Load reads configuration from path (or ./.env when path is empty) plus the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAYVAULT")
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects structurally impossible settings. Secrets may be empty
// here; the entrypoint decides whether to generate ephemeral ones or refuse
// to start.
func (c *Config) Validate() error {
	switch c.HashStrategy {
	case "", "bcrypt", "argon2id":
	default:
		return fmt.Errorf("config: unknown hash_strategy %q", c.HashStrategy)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: token_ttl must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: max_body_bytes must be positive")
	}
	if c.QuotaWindow <= 0 || c.QuotaMax <= 0 {
		return fmt.Errorf("config: quota_window and quota_max must be positive")
	}
	if c.LoginThreshold <= 0 || c.LoginWindow <= 0 || c.LoginLockout <= 0 {
		return fmt.Errorf("config: login guard knobs must be positive")
	}
	return nil
}
