package main

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

// cliConfig is read from ADVISOR_* environment variables, a .env file in the
// working directory, and an optional YAML/JSON/TOML file given by -config.
// Environment variables win over files.
type cliConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Profile        string        `mapstructure:"profile"`
	TokenFile      string        `mapstructure:"token_file"`
	Passphrase     string        `mapstructure:"passphrase"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPrefix    string        `mapstructure:"redis_prefix"`
	LogLevel       string        `mapstructure:"log_level"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UploadTimeout  time.Duration `mapstructure:"upload_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RefreshSkew    time.Duration `mapstructure:"refresh_skew"`
	Email          string        `mapstructure:"email"`
	Password       string        `mapstructure:"password"`
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "advisorctl", "tokens.bin")
}

// loadConfig resolves the CLI configuration. configFile may be empty.
func loadConfig(configFile string) (*cliConfig, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_url", "http://localhost:8000")
	v.SetDefault("profile", "default")
	v.SetDefault("token_file", defaultTokenFile())
	v.SetDefault("passphrase", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_prefix", "gac")
	v.SetDefault("log_level", "warn")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("upload_timeout", "5m")
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("refresh_skew", "30s")
	v.SetDefault("email", "")
	v.SetDefault("password", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *cliConfig) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("ADVISOR_BASE_URL is required")
	}
	if c.RedisAddr == "" && c.TokenFile == "" {
		return errors.New("either ADVISOR_TOKEN_FILE or ADVISOR_REDIS_ADDR is required")
	}
	if c.Passphrase != "" && c.RedisAddr != "" {
		return errors.New("ADVISOR_PASSPHRASE only applies to the token file store")
	}
	return nil
}
