package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 8080
  read_timeout: 15s

redis:
  host: redis.internal
  port: 6380
  db: 2

postgresql:
  host: pg.internal
  port: 5433
  user: app
  password: secret
  database: quotes
  sslmode: require

feeds:
  - name: primary
    url: http://feed.internal:8085
    transport: sse
    enabled: true
    asset_ids: [101, 102]
    reconnect_delay: 5s
    max_reconnect_attempts: 10
  - name: sim
    transport: sim
    enabled: false
    sim_interval: 250ms

archive:
  enabled: true
  workers: 4
  retention: 72h
  prune_interval: 30m

logging:
  level: debug
  format: text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout, "defaults when omitted")

	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	assert.Equal(t, "host=pg.internal port=5433 user=app password=secret dbname=quotes sslmode=require", cfg.PostgresDSN())

	require.Len(t, cfg.Feeds, 2)
	primary := cfg.Feeds[0]
	assert.Equal(t, "primary", primary.Name)
	assert.True(t, primary.Enabled)
	assert.Equal(t, []int64{101, 102}, primary.AssetIDs)
	assert.Equal(t, 5*time.Second, primary.ReconnectDelay)
	assert.Equal(t, 10, primary.MaxReconnectAttempts)

	sim := cfg.Feeds[1]
	assert.Equal(t, "sim", sim.Transport)
	assert.False(t, sim.Enabled)
	assert.Equal(t, 250*time.Millisecond, sim.SimInterval)

	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 72*time.Hour, cfg.Archive.Retention)
	assert.Equal(t, 30*time.Minute, cfg.Archive.PruneInterval)

	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFeedDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
feeds:
  - name: bare
    url: http://localhost:8085
`))
	require.NoError(t, err)

	f := cfg.Feeds[0]
	assert.Equal(t, "sse", f.Transport)
	assert.Equal(t, 3*time.Second, f.ReconnectDelay)
	assert.Equal(t, 5, f.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, f.SimInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REDIS_HOST", "other-redis")
	t.Setenv("POSTGRES_PASSWORD", "fromenv")
	t.Setenv("FEED_URL", "http://override:9999")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "other-redis:6380", cfg.RedisAddr())
	assert.Contains(t, cfg.PostgresDSN(), "password=fromenv")
	assert.Equal(t, "http://override:9999", cfg.Feeds[0].URL)
}

func TestLoadRejectsUnnamedFeed(t *testing.T) {
	_, err := Load(writeConfig(t, `
feeds:
  - url: http://localhost:8085
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
feeds:
  - name: primary
    reconnect_delay: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect_delay")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
