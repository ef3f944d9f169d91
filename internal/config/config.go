// Package config loads process configuration from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/realapp/denorm/internal/metrics"
	"github.com/realapp/denorm/post"
	"github.com/realapp/denorm/search"
	"github.com/realapp/denorm/store"
)

// Config holds everything the postprocessor needs to start.
type Config struct {
	TableName        string `mapstructure:"TABLE_NAME"`
	Region           string `mapstructure:"REGION"`
	DynamoDBEndpoint string `mapstructure:"DYNAMODB_ENDPOINT"`
	PageSize         int32  `mapstructure:"PAGE_SIZE"`
	ConsistentRead   bool   `mapstructure:"CONSISTENT_READ"`

	SearchEndpoint string        `mapstructure:"SEARCH_ENDPOINT"`
	SearchIndex    string        `mapstructure:"SEARCH_INDEX"`
	SearchTimeout  time.Duration `mapstructure:"SEARCH_TIMEOUT"`

	NATSURL  string `mapstructure:"NATS_URL"`
	RedisURL string `mapstructure:"REDIS_URL"`

	FlagAdminUsernames []string `mapstructure:"FLAG_ADMIN_USERNAMES"`
	FlagMinViews       int64    `mapstructure:"FLAG_MIN_VIEWS"`
	FlagRatio          int64    `mapstructure:"FLAG_RATIO"`

	MetricsPushURL string `mapstructure:"METRICS_PUSH_URL"`
	MetricsJob     string `mapstructure:"METRICS_JOB"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from environment variables, layered over an optional
// denorm.yml found in any of paths, layered over defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("denorm")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()

	if len(paths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFoundErr viper.ConfigFileNotFoundError
			if !errors.As(err, &notFoundErr) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetDefault("TABLE_NAME", "denorm")
	v.SetDefault("REGION", "us-east-1")
	v.SetDefault("DYNAMODB_ENDPOINT", "")
	v.SetDefault("PAGE_SIZE", 100)
	v.SetDefault("CONSISTENT_READ", false)
	v.SetDefault("SEARCH_ENDPOINT", "")
	v.SetDefault("SEARCH_INDEX", "users")
	v.SetDefault("SEARCH_TIMEOUT", 10*time.Second)
	v.SetDefault("NATS_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("FLAG_ADMIN_USERNAMES", []string{})
	v.SetDefault("FLAG_MIN_VIEWS", 5)
	v.SetDefault("FLAG_RATIO", 10)
	v.SetDefault("METRICS_PUSH_URL", "")
	v.SetDefault("METRICS_JOB", "denorm-postprocessor")
	v.SetDefault("LOG_LEVEL", "info")

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Metrics returns the Pushgateway configuration.
func (c *Config) Metrics() metrics.PushConfig {
	return metrics.PushConfig{URL: c.MetricsPushURL, Job: c.MetricsJob}
}

// Store returns the table configuration.
func (c *Config) Store() store.Config {
	return store.Config{
		TableName:      c.TableName,
		PageSize:       c.PageSize,
		ConsistentRead: c.ConsistentRead,
	}
}

// Search returns the search client configuration.
func (c *Config) Search() search.Config {
	return search.Config{
		Endpoint: c.SearchEndpoint,
		Region:   c.Region,
		Index:    c.SearchIndex,
		Timeout:  c.SearchTimeout,
	}
}

// FlagPolicy returns the flag archiving policy.
func (c *Config) FlagPolicy() post.FlagPolicy {
	admins := make([]string, 0, len(c.FlagAdminUsernames))
	for _, u := range c.FlagAdminUsernames {
		if u = strings.TrimSpace(u); u != "" {
			admins = append(admins, u)
		}
	}
	return post.FlagPolicy{
		AdminUsernames: admins,
		MinViews:       c.FlagMinViews,
		Ratio:          c.FlagRatio,
	}
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
