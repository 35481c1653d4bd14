package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
database:
  postgres:
    host: localhost
    database: reputation
    user: engine
  redis:
    host: localhost
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "UTC", cfg.Economy.Timezone)
	assert.Equal(t, 0, cfg.Economy.DayStartHour)
	assert.Equal(t, 2*time.Second, cfg.Economy.LockWait)
	assert.Equal(t, 3, cfg.Economy.MaxRetries)
	assert.Equal(t, 5, cfg.Quota.RoleDefaults["vendor"])
	assert.Equal(t, 10, cfg.Quota.RoleDefaults["field_rep"])
	assert.ElementsMatch(t, []string{"trusted", "verified_pro"}, cfg.Quota.UnlimitedBadges)
	assert.Equal(t, int64(10), cfg.Trust.HideCost)
	assert.Equal(t, 720*time.Hour, cfg.Trust.HideDuration)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
economy:
  timezone: Europe/Paris
  day_start_hour: 4
quota:
  role_defaults:
    vendor: 7
    field_rep: 12
trust:
  hide_cost: 25
  hide_duration: 48h
`))
	require.NoError(t, err)

	assert.Equal(t, "Europe/Paris", cfg.Economy.Timezone)
	assert.Equal(t, 4, cfg.Economy.DayStartHour)
	assert.Equal(t, 7, cfg.Quota.RoleDefaults["vendor"])
	assert.Equal(t, int64(25), cfg.Trust.HideCost)
	assert.Equal(t, 48*time.Hour, cfg.Trust.HideDuration)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("ECONOMY_DAY_START_HOUR", "6")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 6, cfg.Economy.DayStartHour)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Postgres: PostgresConfig{Host: "h", Database: "d", User: "u"},
				Redis:    RedisConfig{Host: "r"},
			},
			Economy: EconomyConfig{Timezone: "UTC", LockTTL: time.Second, LockWait: time.Second},
			Trust:   TrustConfig{HideCost: 10, HideDuration: time.Hour},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing postgres host", mutate: func(c *Config) { c.Database.Postgres.Host = "" }, wantErr: "database.postgres.host"},
		{name: "missing redis host", mutate: func(c *Config) { c.Database.Redis.Host = "" }, wantErr: "database.redis.host"},
		{name: "bad day start", mutate: func(c *Config) { c.Economy.DayStartHour = 24 }, wantErr: "day_start_hour"},
		{name: "bad timezone", mutate: func(c *Config) { c.Economy.Timezone = "Mars/Olympus" }, wantErr: "economy.timezone"},
		{name: "negative quota", mutate: func(c *Config) { c.Quota.RoleDefaults = map[string]int{"vendor": -1} }, wantErr: "quota.role_defaults.vendor"},
		{name: "zero hide cost", mutate: func(c *Config) { c.Trust.HideCost = 0 }, wantErr: "trust.hide_cost"},
		{
			name:    "mattermost without url",
			mutate:  func(c *Config) { c.Notifications.Mattermost.Enabled = true },
			wantErr: "webhook_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresConfig_URL(t *testing.T) {
	c := PostgresConfig{Host: "h", Port: 5432, Database: "d", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.URL())
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", c.DSN())
}
