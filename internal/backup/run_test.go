package backup

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFinish(t *testing.T) {
	r := newRun(TriggerDebounce)
	r.finish("copied\n", nil)
	assert.True(t, r.Success())
	assert.Equal(t, "copied\n", r.Output)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))

	r = newRun(TriggerDebounce)
	r.finish("", errors.New("mount failed"))
	assert.False(t, r.Success())
	assert.Equal(t, "mount failed", r.Err)
}

func TestRunFinish_TruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes; the trailing "y" makes the byte cut land mid-rune.
	output := strings.Repeat("é", maxOutput) + "y"

	r := newRun(TriggerDebounce)
	r.finish(output, nil)

	require.True(t, strings.HasPrefix(r.Output, "...\n"))
	tail := strings.TrimPrefix(r.Output, "...\n")
	assert.True(t, utf8.ValidString(tail))
	assert.LessOrEqual(t, len(tail), maxOutput)
	assert.True(t, strings.HasSuffix(output, tail), "the newest output is kept")
}

func TestNewFailedRun(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	r := NewFailedRun(TriggerDebounce, started, finished, errors.New("panic: boom"))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, TriggerDebounce, r.Trigger)
	assert.Equal(t, "panic: boom", r.Err)
	assert.Equal(t, 3*time.Second, r.Duration())
}
