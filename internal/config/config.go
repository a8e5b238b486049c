// Package config loads the security policy and storage settings. Defaults are
// applied first and an optional YAML file overlays them, so a missing config
// file yields a working setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// UserFile is the single-file user directory.
	UserFile string `yaml:"user_file"`
	// HistoryDir holds one <user>.auth password history log per user.
	HistoryDir string `yaml:"history_dir"`

	// BadPassLimit is the number of consecutive failed authentications
	// tolerated before a session is forced out.
	BadPassLimit int `yaml:"bad_pass_limit"`
	// SessionTimeoutMin is the inactivity window in minutes.
	SessionTimeoutMin int `yaml:"session_timeout_min"`
	// PasswordExpireDays is the password lifetime in days.
	PasswordExpireDays int `yaml:"password_expire_days"`
	// PasswordReuseDays is the window in days during which an old password
	// hash may not be reused.
	PasswordReuseDays int `yaml:"password_reuse_days"`

	DefaultGroup string `yaml:"default_group"`

	// TokenSecret signs session tokens; TokenTTLMin bounds their lifetime.
	TokenSecret string `yaml:"token_secret"`
	TokenTTLMin int    `yaml:"token_ttl_min"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		UserFile:           filepath.Join("data", "users.auth.php"),
		HistoryDir:         filepath.Join("data", "auth"),
		BadPassLimit:       3,
		SessionTimeoutMin:  30,
		PasswordExpireDays: 90,
		PasswordReuseDays:  365,
		DefaultGroup:       "user",
		TokenTTLMin:        30,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load returns the defaults overlaid with values from path. A missing file is
// not an error; an unparsable one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Minutes and days convert to durations here, in one place.

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMin) * time.Minute
}

func (c *Config) PasswordExpire() time.Duration {
	return time.Duration(c.PasswordExpireDays) * 24 * time.Hour
}

func (c *Config) PasswordReuse() time.Duration {
	return time.Duration(c.PasswordReuseDays) * 24 * time.Hour
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMin) * time.Minute
}
