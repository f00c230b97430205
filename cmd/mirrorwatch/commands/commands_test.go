package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tangthinker/mirrorwatch/internal/backup"
	"github.com/tangthinker/mirrorwatch/internal/config"
	"github.com/tangthinker/mirrorwatch/internal/source"
)

func TestNewSource(t *testing.T) {
	cfg := config.Defaults()
	assert.IsType(t, &source.RedisSource{}, newSource(&cfg))

	cfg.Source.Type = "fs"
	cfg.Source.FS.Path = t.TempDir()
	assert.IsType(t, &source.FSSource{}, newSource(&cfg))

	cfg.Source.Reconnect.Policy = "backoff"
	src := newSource(&cfg)
	assert.IsType(t, &source.Reconnecting{}, src)
	assert.Equal(t, "fs", src.Name())
}

func TestNewExecutor(t *testing.T) {
	cfg := config.Defaults()
	assert.IsType(t, &backup.MirrorExecutor{}, newExecutor(&cfg))

	cfg.Backup.Mode = "command"
	cfg.Backup.Command = "true"
	assert.IsType(t, &backup.CommandExecutor{}, newExecutor(&cfg))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1b4e28ba", shortID("1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
	assert.Equal(t, "startup", shortID("startup"))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, ts.Local().Format(time.RFC3339), formatTime(ts))
}
