package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	fail  map[string]error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if err := f.fail[name]; err != nil {
		return []byte(name + ": permission denied\n"), err
	}
	return []byte(name + " ok\n"), nil
}

func TestMirrorExecutor_MountsCopiesAndUnmounts(t *testing.T) {
	mnt := t.TempDir()
	mirror := t.TempDir()
	writeFile(t, filepath.Join(mnt, "data.bin"), "payload")

	runner := &fakeRunner{}
	e := NewMirrorExecutor(MirrorConfig{
		Remote:       "//nas/share",
		MountPoint:   mnt,
		MountOptions: "ro,guest",
		MirrorPath:   mirror,
		Unmount:      true,
	})
	e.run = runner.run
	e.isMounted = func(string) bool { return false }

	r := e.Run(context.Background(), TriggerDebounce)

	require.True(t, r.Success(), r.Err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, TriggerDebounce, r.Trigger)
	assert.Equal(t, 1, r.Files)
	assert.Equal(t, int64(len("payload")), r.Bytes)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
	assert.Contains(t, r.Output, "mount ok")
	assert.Contains(t, r.Output, "mirrored 1 files")

	require.Len(t, runner.calls, 2)
	assert.Equal(t, call{"mount", []string{"-t", "cifs", "//nas/share", mnt, "-o", "ro,guest"}}, runner.calls[0])
	assert.Equal(t, call{"umount", []string{mnt}}, runner.calls[1])

	_, err := os.Stat(filepath.Join(mirror, "data.bin"))
	assert.NoError(t, err)
}

func TestMirrorExecutor_SkipsMountWhenAlreadyMounted(t *testing.T) {
	mnt := t.TempDir()
	runner := &fakeRunner{}
	e := NewMirrorExecutor(MirrorConfig{Remote: "//nas/share", MountPoint: mnt, MirrorPath: t.TempDir(), Unmount: true})
	e.run = runner.run
	e.isMounted = func(string) bool { return true }

	r := e.Run(context.Background(), TriggerStartup)
	require.True(t, r.Success(), r.Err)
	assert.Empty(t, runner.calls, "already-mounted shares are neither mounted nor unmounted")
}

func TestMirrorExecutor_MountFailure(t *testing.T) {
	mirror := t.TempDir()
	writeFile(t, filepath.Join(mirror, "previous.txt"), "kept")

	runner := &fakeRunner{fail: map[string]error{"mount": errors.New("exit status 32")}}
	e := NewMirrorExecutor(MirrorConfig{Remote: "//nas/share", MountPoint: t.TempDir(), MirrorPath: mirror})
	e.run = runner.run
	e.isMounted = func(string) bool { return false }

	r := e.Run(context.Background(), TriggerDebounce)

	assert.False(t, r.Success())
	assert.Contains(t, r.Err, "failed to mount //nas/share")
	assert.Contains(t, r.Output, "permission denied")

	_, err := os.Stat(filepath.Join(mirror, "previous.txt"))
	assert.NoError(t, err, "mirror is not cleared when the mount fails")
}

func TestMirrorExecutor_NoRemote(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a"), "a")

	runner := &fakeRunner{}
	e := NewMirrorExecutor(MirrorConfig{MountPoint: src, MirrorPath: t.TempDir()})
	e.run = runner.run

	r := e.Run(context.Background(), TriggerDebounce)
	require.True(t, r.Success(), r.Err)
	assert.Empty(t, runner.calls)
}

func TestMountedIn(t *testing.T) {
	mounts := strings.Join([]string{
		"proc /proc proc rw,nosuid 0 0",
		"//nas/share /mnt/remote cifs ro 0 0",
		"//nas/other /mnt/with\\040space cifs ro 0 0",
	}, "\n")

	assert.True(t, mountedIn(strings.NewReader(mounts), "/mnt/remote"))
	assert.True(t, mountedIn(strings.NewReader(mounts), "/mnt/remote/"))
	assert.True(t, mountedIn(strings.NewReader(mounts), "/mnt/with space"))
	assert.False(t, mountedIn(strings.NewReader(mounts), "/mnt/mirror"))
}

func TestCommandExecutor(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{}
		e := NewCommandExecutor("rsync -a /src/ /dst/")
		e.run = runner.run

		r := e.Run(context.Background(), TriggerDebounce)
		require.True(t, r.Success())
		assert.Equal(t, "sh ok\n", r.Output)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, []string{"-c", "rsync -a /src/ /dst/"}, runner.calls[0].args)
	})

	t.Run("failure", func(t *testing.T) {
		runner := &fakeRunner{fail: map[string]error{"sh": errors.New("exit status 1")}}
		e := NewCommandExecutor("false")
		e.run = runner.run

		r := e.Run(context.Background(), TriggerDebounce)
		assert.False(t, r.Success())
		assert.Contains(t, r.Err, "backup command failed")
		assert.Contains(t, r.Output, "permission denied")
	})

	t.Run("real shell", func(t *testing.T) {
		e := NewCommandExecutor("echo mirrored; echo warn >&2")
		r := e.Run(context.Background(), TriggerDebounce)
		require.True(t, r.Success(), r.Err)
		assert.Contains(t, r.Output, "mirrored")
		assert.Contains(t, r.Output, "warn")
	})
}

func TestRunOutputIsBounded(t *testing.T) {
	r := newRun(TriggerDebounce)
	r.finish(strings.Repeat("x", maxOutput+100), nil)
	assert.LessOrEqual(t, len(r.Output), maxOutput+len("...\n"))
	assert.True(t, strings.HasPrefix(r.Output, "...\n"))
}
