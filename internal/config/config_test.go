package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := Load(nil)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Engine.MaxCampaigns)
	assert.Equal(t, 256, cfg.Engine.QueueSize)
	_, err := uuid.Parse(cfg.Engine.DeviceID)
	assert.NoError(t, err, "device id defaults to a uuid")
	assert.Equal(t, "reach-contents", cfg.Cache.Name)
	assert.Equal(t, 64, cfg.Cache.Capacity)
	assert.Equal(t, "none", cfg.Cache.Compression)
	assert.Equal(t, "reach_payloads", cfg.Listener.Channel)
	assert.Equal(t, 128, cfg.Feedback.Buffer)
	assert.False(t, cfg.PostgresEnabled())
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  log_level: warn
engine:
  max_campaigns: 0
  device_id: dev-42
  params:
    appid: shop
cache:
  capacity: 8
  persisted: true
  path: /var/lib/reach/cache.db
  compression: zstd
postgres:
  host: db
  user: reach
  db_name: reach
`), 0o600))

	t.Setenv("APP_CACHE_CAPACITY", "16")
	t.Setenv("APP_SPOOL_DIR", "/var/spool/reach")

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--config", path, "--log-level", "debug"}))

	cfg := Load(fs)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Server.LogLevel, "flag beats file")
	assert.Equal(t, 0, cfg.Engine.MaxCampaigns, "explicit zero is kept")
	assert.Equal(t, "dev-42", cfg.Engine.DeviceID)
	assert.Equal(t, map[string]string{"appid": "shop"}, cfg.Engine.Params)
	assert.Equal(t, 16, cfg.Cache.Capacity, "env beats file")
	assert.True(t, cfg.Cache.Persisted)
	assert.Equal(t, "zstd", cfg.Cache.Compression)
	assert.Equal(t, "/var/spool/reach", cfg.Spool.Dir)
	assert.True(t, cfg.PostgresEnabled())
	assert.Equal(t, "postgres://reach:@db:5432/reach?sslmode=disable", cfg.DSN())
}

func TestDSNRedacted(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		want     string
	}{
		{"password masked", "reach", "s3cret", "postgres://reach:xxxxx@db:5432/reach?sslmode=disable"},
		{"no password", "reach", "", "postgres://reach@db:5432/reach?sslmode=disable"},
		{"no user", "", "", "postgres://db:5432/reach?sslmode=disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.Postgres.Host = "db"
			cfg.Postgres.Port = 5432
			cfg.Postgres.DBName = "reach"
			cfg.Postgres.SSLMode = "disable"
			cfg.Postgres.User = tt.user
			cfg.Postgres.Password = tt.password

			got := cfg.DSNRedacted()
			assert.Equal(t, tt.want, got)
			if tt.password != "" {
				assert.NotContains(t, got, tt.password)
				assert.Contains(t, cfg.DSN(), tt.password)
			}
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			SetupLogging(tt.in)
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}
