// Package config loads mirrorwatch settings from a YAML file, the environment
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/tangthinker/mirrorwatch/internal/backup"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix for environment overrides, e.g. MIRRORWATCH_BACKUP_MIRROR_PATH.
const EnvPrefix = "MIRRORWATCH"

// Config is the complete daemon configuration.
type Config struct {
	Debounce DebounceConfig `mapstructure:"debounce" yaml:"debounce"`
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Backup   BackupConfig   `mapstructure:"backup" yaml:"backup"`
	Daemon   DaemonConfig   `mapstructure:"daemon" yaml:"daemon"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// DebounceConfig holds the quiet period.
type DebounceConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
}

// SourceConfig selects and configures the change-event transport.
type SourceConfig struct {
	Type      string          `mapstructure:"type" yaml:"type"` // redis, fs
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	FS        FSConfig        `mapstructure:"fs" yaml:"fs"`
	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// RedisConfig configures the Redis pub/sub transport.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// FSConfig configures the filesystem transport.
type FSConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ReconnectConfig sets what happens when the transport fails.
type ReconnectConfig struct {
	Policy     string        `mapstructure:"policy" yaml:"policy"` // fatal, backoff
	MaxElapsed time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
}

// BackupConfig describes the backup action.
type BackupConfig struct {
	Mode         string `mapstructure:"mode" yaml:"mode"` // mirror, command
	Remote       string `mapstructure:"remote" yaml:"remote"`
	MountPoint   string `mapstructure:"mount_point" yaml:"mount_point"`
	FSType       string `mapstructure:"fs_type" yaml:"fs_type"`
	MountOptions string `mapstructure:"mount_options" yaml:"mount_options"`
	MirrorPath   string `mapstructure:"mirror_path" yaml:"mirror_path"`
	Unmount      bool   `mapstructure:"unmount" yaml:"unmount"`
	Command      string `mapstructure:"command" yaml:"command"`
	Schedule     string `mapstructure:"schedule" yaml:"schedule"`
}

// DaemonConfig holds process-level paths.
type DaemonConfig struct {
	Socket      string `mapstructure:"socket" yaml:"socket"`
	PIDFile     string `mapstructure:"pid_file" yaml:"pid_file"`
	HistoryFile string `mapstructure:"history_file" yaml:"history_file"`
	HistorySize int    `mapstructure:"history_size" yaml:"history_size"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Debounce: DebounceConfig{QuietPeriod: 5 * time.Second},
		Source: SourceConfig{
			Type: "redis",
			Redis: RedisConfig{
				Addr:    "redis-service:6379",
				Channel: "file_changes",
			},
			Reconnect: ReconnectConfig{
				Policy:     "fatal",
				MaxElapsed: 5 * time.Minute,
			},
		},
		Backup: BackupConfig{
			Mode:         "mirror",
			MountPoint:   "/mnt/remote",
			FSType:       "cifs",
			MountOptions: "ro,guest",
			MirrorPath:   "/mnt/mirror",
		},
		Daemon: DaemonConfig{
			Socket:      "/tmp/mirrorwatch.sock",
			PIDFile:     "/tmp/mirrorwatch.pid",
			HistoryFile: filepath.Join(home, ".mirrorwatch", "history.json"),
			HistorySize: 50,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// SetDefaults registers Defaults on v so that env overrides work for every key.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("debounce.quiet_period", d.Debounce.QuietPeriod)
	v.SetDefault("source.type", d.Source.Type)
	v.SetDefault("source.redis.addr", d.Source.Redis.Addr)
	v.SetDefault("source.redis.password", d.Source.Redis.Password)
	v.SetDefault("source.redis.db", d.Source.Redis.DB)
	v.SetDefault("source.redis.channel", d.Source.Redis.Channel)
	v.SetDefault("source.fs.path", d.Source.FS.Path)
	v.SetDefault("source.reconnect.policy", d.Source.Reconnect.Policy)
	v.SetDefault("source.reconnect.max_elapsed", d.Source.Reconnect.MaxElapsed)
	v.SetDefault("backup.mode", d.Backup.Mode)
	v.SetDefault("backup.remote", d.Backup.Remote)
	v.SetDefault("backup.mount_point", d.Backup.MountPoint)
	v.SetDefault("backup.fs_type", d.Backup.FSType)
	v.SetDefault("backup.mount_options", d.Backup.MountOptions)
	v.SetDefault("backup.mirror_path", d.Backup.MirrorPath)
	v.SetDefault("backup.unmount", d.Backup.Unmount)
	v.SetDefault("backup.command", d.Backup.Command)
	v.SetDefault("backup.schedule", d.Backup.Schedule)
	v.SetDefault("daemon.socket", d.Daemon.Socket)
	v.SetDefault("daemon.pid_file", d.Daemon.PIDFile)
	v.SetDefault("daemon.history_file", d.Daemon.HistoryFile)
	v.SetDefault("daemon.history_size", d.Daemon.HistorySize)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// Load reads the config file (if cfgFile is set or one is found in the
// default locations), applies MIRRORWATCH_* environment overrides and
// validates the result.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".mirrorwatch"))
		v.AddConfigPath("/etc/mirrorwatch")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Debounce.QuietPeriod <= 0 {
		fail("debounce.quiet_period must be positive, got %s", c.Debounce.QuietPeriod)
	}

	switch c.Source.Type {
	case "redis":
		if c.Source.Redis.Addr == "" || c.Source.Redis.Channel == "" {
			fail("source.redis.addr and source.redis.channel are required")
		}
	case "fs":
		if c.Source.FS.Path == "" {
			fail("source.fs.path is required for the fs source")
		}
	default:
		fail("source.type must be redis or fs, got %q", c.Source.Type)
	}

	switch c.Source.Reconnect.Policy {
	case "fatal", "backoff":
	default:
		fail("source.reconnect.policy must be fatal or backoff, got %q", c.Source.Reconnect.Policy)
	}

	switch c.Backup.Mode {
	case "mirror":
		if c.Backup.MirrorPath == "" || c.Backup.MountPoint == "" {
			fail("backup.mirror_path and backup.mount_point are required")
		} else if err := backup.CheckDisjoint(c.Backup.MountPoint, c.Backup.MirrorPath); err != nil {
			fail("backup.mount_point and backup.mirror_path overlap: %v", err)
		}
	case "command":
		if strings.TrimSpace(c.Backup.Command) == "" {
			fail("backup.command is required in command mode")
		}
	default:
		fail("backup.mode must be mirror or command, got %q", c.Backup.Mode)
	}

	if c.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			fail("backup.schedule: %v", err)
		}
	}

	if c.Daemon.Socket == "" {
		fail("daemon.socket is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
