package backup

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Stats summarizes a mirror pass.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// Mirror replaces the contents of targetPath with a full copy of sourcePath.
// The target directory itself is kept; everything inside it is removed first.
func Mirror(sourcePath, targetPath string) (Stats, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to stat source directory: %w", err)
	}
	if !info.IsDir() {
		return Stats{}, fmt.Errorf("source %s is not a directory", sourcePath)
	}

	if err := CheckDisjoint(sourcePath, targetPath); err != nil {
		return Stats{}, err
	}

	if err := clearDir(targetPath); err != nil {
		return Stats{}, fmt.Errorf("failed to clear target directory: %w", err)
	}

	return copyTree(sourcePath, targetPath)
}

// CheckDisjoint rejects a target that is the source, lives inside it, or
// contains it. Clearing the target must never touch the source.
func CheckDisjoint(sourcePath, targetPath string) error {
	src, err := filepath.Abs(sourcePath)
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(targetPath)
	if err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("target %s must not be the source", dst)
	}
	if within(src, dst) {
		return fmt.Errorf("target %s must not be inside source %s", dst, src)
	}
	if within(dst, src) {
		return fmt.Errorf("source %s must not be inside target %s", src, dst)
	}
	return nil
}

// within reports whether path lies below parent. Both must be absolute.
func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// clearDir removes everything inside dir, creating dir if it does not exist.
func clearDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// copyTree recursively copies sourcePath into targetPath.
func copyTree(sourcePath, targetPath string) (Stats, error) {
	var stats Stats

	err := filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		dst := filepath.Join(targetPath, relPath)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if err := os.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dst, err)
			}
			stats.Dirs++

		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Symlink(link, dst); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", dst, err)
			}
			stats.Files++

		case info.Mode().IsRegular():
			n, err := copyFile(path, dst, info)
			if err != nil {
				return fmt.Errorf("failed to copy file %s: %w", relPath, err)
			}
			stats.Files++
			stats.Bytes += n

		default:
			// sockets, devices and fifos are not mirrored
		}
		return nil
	})

	return stats, err
}

// copyFile copies a regular file and keeps its mode and modification time.
func copyFile(src, dst string, info fs.FileInfo) (int64, error) {
	source, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(destination, source)
	if cerr := destination.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}

	return n, os.Chtimes(dst, info.ModTime(), info.ModTime())
}
