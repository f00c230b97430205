package backup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// MirrorConfig describes the remote share and the local mirror.
type MirrorConfig struct {
	Remote       string // e.g. //nas/share; empty means MountPoint is already populated
	MountPoint   string
	FSType       string
	MountOptions string
	MirrorPath   string
	Unmount      bool
}

// MirrorExecutor mounts the remote share, clears the mirror directory and
// copies the share into it. Every run is a full resynchronization.
type MirrorExecutor struct {
	cfg       MirrorConfig
	run       CommandRunner
	isMounted func(path string) bool
}

// NewMirrorExecutor creates an executor that shells out to mount/umount.
func NewMirrorExecutor(cfg MirrorConfig) *MirrorExecutor {
	if cfg.FSType == "" {
		cfg.FSType = "cifs"
	}
	return &MirrorExecutor{
		cfg:       cfg,
		run:       execRunner,
		isMounted: isMounted,
	}
}

// Run performs one backup.
func (e *MirrorExecutor) Run(ctx context.Context, trigger string) Run {
	r := newRun(trigger)
	var out strings.Builder

	stats, err := e.mirror(ctx, &out)
	r.Files = stats.Files
	r.Bytes = stats.Bytes
	if err == nil {
		fmt.Fprintf(&out, "mirrored %d files, %d directories, %d bytes into %s\n",
			stats.Files, stats.Dirs, stats.Bytes, e.cfg.MirrorPath)
	}
	r.finish(out.String(), err)
	return r
}

func (e *MirrorExecutor) mirror(ctx context.Context, out io.Writer) (Stats, error) {
	mounted := false
	if e.cfg.Remote != "" && !e.isMounted(e.cfg.MountPoint) {
		if err := os.MkdirAll(e.cfg.MountPoint, 0755); err != nil {
			return Stats{}, fmt.Errorf("failed to create mount point: %w", err)
		}
		args := []string{"-t", e.cfg.FSType, e.cfg.Remote, e.cfg.MountPoint}
		if e.cfg.MountOptions != "" {
			args = append(args, "-o", e.cfg.MountOptions)
		}
		output, err := e.run(ctx, "mount", args...)
		out.Write(output)
		if err != nil {
			return Stats{}, fmt.Errorf("failed to mount %s: %w", e.cfg.Remote, err)
		}
		mounted = true
	}

	stats, err := Mirror(e.cfg.MountPoint, e.cfg.MirrorPath)

	if mounted && e.cfg.Unmount {
		output, uerr := e.run(ctx, "umount", e.cfg.MountPoint)
		out.Write(output)
		if uerr != nil && err == nil {
			err = fmt.Errorf("failed to unmount %s: %w", e.cfg.MountPoint, uerr)
		}
	}
	return stats, err
}

// isMounted reports whether path is a mount point according to /proc/self/mounts.
func isMounted(path string) bool {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return false
	}
	defer f.Close()
	return mountedIn(f, path)
}

func mountedIn(r io.Reader, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		// mount paths escape spaces as \040
		if strings.ReplaceAll(fields[1], `\040`, " ") == abs {
			return true
		}
	}
	return false
}

// CommandExecutor runs a shell command as the backup action.
type CommandExecutor struct {
	command string
	run     CommandRunner
}

// NewCommandExecutor creates an executor for `sh -c command`.
func NewCommandExecutor(command string) *CommandExecutor {
	return &CommandExecutor{command: command, run: execRunner}
}

// Run performs one backup.
func (e *CommandExecutor) Run(ctx context.Context, trigger string) Run {
	r := newRun(trigger)
	output, err := e.run(ctx, "sh", "-c", e.command)
	if err != nil {
		err = fmt.Errorf("backup command failed: %w", err)
	}
	r.finish(string(output), err)
	return r
}
