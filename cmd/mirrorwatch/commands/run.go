package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tangthinker/mirrorwatch/internal/backup"
	"github.com/tangthinker/mirrorwatch/internal/config"
	"github.com/tangthinker/mirrorwatch/internal/daemon"
	"github.com/tangthinker/mirrorwatch/internal/logger"
	"github.com/tangthinker/mirrorwatch/internal/metrics"
	"github.com/tangthinker/mirrorwatch/internal/source"
	"github.com/tangthinker/mirrorwatch/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backup daemon in the foreground",
	Long: `Run performs one backup immediately, then subscribes to the configured
change source and runs one more backup after every quiet period.

SIGINT or SIGTERM stops listening, lets a pending or running backup
finish and exits.

Examples:
  # Use the default config search path
  mirrorwatch run

  # Watch a local directory instead of Redis
  MIRRORWATCH_SOURCE_TYPE=fs MIRRORWATCH_SOURCE_FS_PATH=/srv/data mirrorwatch run`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := daemon.AcquirePIDFile(cfg.Daemon.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := daemon.ReleasePIDFile(cfg.Daemon.PIDFile); err != nil {
			logger.Warn("Failed to release pid file", "error", err)
		}
	}()

	src := newSource(cfg)
	exec := newExecutor(cfg)

	history, err := backup.NewHistory(cfg.Daemon.HistoryFile, cfg.Daemon.HistorySize)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	var m *metrics.Metrics
	var reg *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	sup, err := supervisor.New(src, exec, supervisor.Options{
		QuietPeriod: cfg.Debounce.QuietPeriod,
		Schedule:    cfg.Backup.Schedule,
		History:     history,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	ctl, err := daemon.NewServer(cfg.Daemon.Socket, sup)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	defer ctl.Close()
	go func() {
		if err := ctl.Start(); err != nil {
			logger.Error("Control socket error", "error", err)
		}
	}()

	if reg != nil {
		srv := metrics.NewServer(cfg.Metrics.Addr, reg, func() any { return sup.Status() })
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Info("Metrics enabled", "addr", cfg.Metrics.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mirrorwatch started",
		"version", Version,
		"source", cfg.Source.Type,
		"mode", cfg.Backup.Mode,
		"socket", cfg.Daemon.Socket)

	if err := sup.Run(ctx); err != nil {
		logger.Error("Stopped on transport failure", "error", err)
		return err
	}
	logger.Info("mirrorwatch stopped")
	return nil
}

func newSource(cfg *config.Config) source.Source {
	var src source.Source
	switch cfg.Source.Type {
	case "fs":
		src = source.NewFSSource(cfg.Source.FS.Path)
	default:
		src = source.NewRedisSource(source.RedisConfig{
			Addr:     cfg.Source.Redis.Addr,
			Password: cfg.Source.Redis.Password,
			DB:       cfg.Source.Redis.DB,
			Channel:  cfg.Source.Redis.Channel,
		})
	}
	if cfg.Source.Reconnect.Policy == "backoff" {
		src = source.NewReconnecting(src, cfg.Source.Reconnect.MaxElapsed)
	}
	return src
}

func newExecutor(cfg *config.Config) backup.Executor {
	if cfg.Backup.Mode == "command" {
		return backup.NewCommandExecutor(cfg.Backup.Command)
	}
	return backup.NewMirrorExecutor(backup.MirrorConfig{
		Remote:       cfg.Backup.Remote,
		MountPoint:   cfg.Backup.MountPoint,
		FSType:       cfg.Backup.FSType,
		MountOptions: cfg.Backup.MountOptions,
		MirrorPath:   cfg.Backup.MirrorPath,
		Unmount:      cfg.Backup.Unmount,
	})
}
