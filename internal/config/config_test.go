package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, cfg any) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Debounce.QuietPeriod)
	assert.Equal(t, "redis-service:6379", cfg.Source.Redis.Addr)
	assert.Equal(t, "file_changes", cfg.Source.Redis.Channel)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"debounce": map[string]any{"quiet_period": "750ms"},
		"source": map[string]any{
			"type": "fs",
			"fs":   map[string]any{"path": "/srv/share"},
		},
		"backup": map[string]any{
			"mode":     "command",
			"command":  "rsync -a /src/ /dst/",
			"schedule": "@every 6h",
		},
	})

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Debounce.QuietPeriod)
	assert.Equal(t, "fs", cfg.Source.Type)
	assert.Equal(t, "/srv/share", cfg.Source.FS.Path)
	assert.Equal(t, "command", cfg.Backup.Mode)
	assert.Equal(t, "@every 6h", cfg.Backup.Schedule)
	// untouched keys keep their defaults
	assert.Equal(t, "/tmp/mirrorwatch.sock", cfg.Daemon.Socket)
	assert.Equal(t, 50, cfg.Daemon.HistorySize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MIRRORWATCH_BACKUP_MIRROR_PATH", "/data/standby")
	t.Setenv("MIRRORWATCH_DEBOUNCE_QUIET_PERIOD", "2s")

	path := writeConfig(t, map[string]any{"logging": map[string]any{"level": "DEBUG"}})
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/data/standby", cfg.Backup.MirrorPath)
	assert.Equal(t, 2*time.Second, cfg.Debounce.QuietPeriod)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero quiet period", func(c *Config) { c.Debounce.QuietPeriod = 0 }, "quiet_period"},
		{"unknown source", func(c *Config) { c.Source.Type = "kafka" }, "source.type"},
		{"fs without path", func(c *Config) { c.Source.Type = "fs" }, "source.fs.path"},
		{"unknown policy", func(c *Config) { c.Source.Reconnect.Policy = "sometimes" }, "reconnect.policy"},
		{"command without command", func(c *Config) { c.Backup.Mode = "command" }, "backup.command"},
		{"unknown mode", func(c *Config) { c.Backup.Mode = "rsync" }, "backup.mode"},
		{"empty mirror path", func(c *Config) { c.Backup.MirrorPath = "" }, "mirror_path"},
		{"mirror contains mount point", func(c *Config) { c.Backup.MirrorPath = "/mnt" }, "overlap"},
		{"mirror inside mount point", func(c *Config) { c.Backup.MirrorPath = "/mnt/remote/mirror" }, "overlap"},
		{"mirror equals mount point", func(c *Config) { c.Backup.MirrorPath = "/mnt/remote" }, "overlap"},
		{"bad schedule", func(c *Config) { c.Backup.Schedule = "every tuesday" }, "backup.schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
