package config

import "time"

type Config struct {
	Server struct {
		Port            int    `yaml:"port"`
		ReadTimeoutStr  string `yaml:"read_timeout"`
		WriteTimeoutStr string `yaml:"write_timeout"`
		ReadTimeout     time.Duration `yaml:"-"`
		WriteTimeout    time.Duration `yaml:"-"`
	} `yaml:"server"`

	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	PostgreSQL struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgresql"`

	Feeds []FeedConfig `yaml:"feeds"`

	Archive struct {
		Enabled          bool   `yaml:"enabled"`
		Workers          int    `yaml:"workers"`
		RetentionStr     string `yaml:"retention"`
		PruneIntervalStr string `yaml:"prune_interval"`
		Retention        time.Duration `yaml:"-"`
		PruneInterval    time.Duration `yaml:"-"`
	} `yaml:"archive"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type FeedConfig struct {
	Name                 string  `yaml:"name"`
	URL                  string  `yaml:"url"`
	Transport            string  `yaml:"transport"` // sse | ws | sim
	Enabled              bool    `yaml:"enabled"`
	AssetIDs             []int64 `yaml:"asset_ids"`
	ReconnectDelayStr    string  `yaml:"reconnect_delay"`
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`
	SimIntervalStr       string  `yaml:"sim_interval"`
	ReconnectDelay       time.Duration `yaml:"-"`
	SimInterval          time.Duration `yaml:"-"`
}
