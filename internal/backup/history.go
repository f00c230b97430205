package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// History keeps the most recent runs and persists them as JSON.
type History struct {
	path string
	size int

	mu   sync.RWMutex
	runs []Run // oldest first
}

// NewHistory loads the history at path, keeping at most size runs.
// An empty path keeps history in memory only.
func NewHistory(path string, size int) (*History, error) {
	if size <= 0 {
		size = 50
	}
	h := &History{path: path, size: size}
	if err := h.load(); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return h, nil
}

func (h *History) load() error {
	if h.path == "" {
		return nil
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var runs []Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return err
	}
	h.runs = trim(runs, h.size)
	return nil
}

// save writes the history atomically. Caller must hold mu.
func (h *History) save() error {
	if h.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(h.runs, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return err
	}

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, h.path)
}

// Record appends a run and persists the history.
func (h *History) Record(r Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = trim(append(h.runs, r), h.size)
	if err := h.save(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// List returns the recorded runs, newest first.
func (h *History) List() []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Run, len(h.runs))
	for i, r := range h.runs {
		out[len(h.runs)-1-i] = r
	}
	return out
}

// Last returns the most recent run.
func (h *History) Last() (Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.runs) == 0 {
		return Run{}, false
	}
	return h.runs[len(h.runs)-1], true
}

func trim(runs []Run, size int) []Run {
	if len(runs) <= size {
		return runs
	}
	return append([]Run(nil), runs[len(runs)-size:]...)
}
