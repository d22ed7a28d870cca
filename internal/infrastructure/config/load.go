package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment variables override values from the file.
	applyEnvOverrides(&cfg)

	if cfg.Server.ReadTimeout, err = parseDuration(cfg.Server.ReadTimeoutStr, 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid server.read_timeout: %w", err)
	}
	if cfg.Server.WriteTimeout, err = parseDuration(cfg.Server.WriteTimeoutStr, 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid server.write_timeout: %w", err)
	}
	if cfg.Archive.Retention, err = parseDuration(cfg.Archive.RetentionStr, 24*time.Hour); err != nil {
		return nil, fmt.Errorf("invalid archive.retention: %w", err)
	}
	if cfg.Archive.PruneInterval, err = parseDuration(cfg.Archive.PruneIntervalStr, time.Hour); err != nil {
		return nil, fmt.Errorf("invalid archive.prune_interval: %w", err)
	}

	for i := range cfg.Feeds {
		f := &cfg.Feeds[i]
		if f.Name == "" {
			return nil, fmt.Errorf("feed %d has no name", i)
		}
		if f.ReconnectDelay, err = parseDuration(f.ReconnectDelayStr, 3*time.Second); err != nil {
			return nil, fmt.Errorf("invalid reconnect_delay for feed %q: %w", f.Name, err)
		}
		if f.SimInterval, err = parseDuration(f.SimIntervalStr, 500*time.Millisecond); err != nil {
			return nil, fmt.Errorf("invalid sim_interval for feed %q: %w", f.Name, err)
		}
		if f.MaxReconnectAttempts <= 0 {
			f.MaxReconnectAttempts = 5
		}
		if f.Transport == "" {
			f.Transport = "sse"
		}
	}

	return &cfg, nil
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.PostgreSQL.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.PostgreSQL.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.PostgreSQL.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.PostgreSQL.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.PostgreSQL.Database = v
	}

	if v := os.Getenv("FEED_URL"); v != "" && len(cfg.Feeds) > 0 {
		cfg.Feeds[0].URL = v
	}
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host, c.PostgreSQL.Port, c.PostgreSQL.User,
		c.PostgreSQL.Password, c.PostgreSQL.Database, c.PostgreSQL.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
