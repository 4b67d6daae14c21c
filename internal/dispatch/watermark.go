package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watermark persists the received-time cutoff for mailbox polling so a
// restart never reprocesses emails that were already handled.
type Watermark struct {
	mu   sync.Mutex
	path string
	at   time.Time
}

type watermarkFile struct {
	At time.Time `json:"at"`
}

// LoadWatermark reads the persisted watermark, or seeds it with start
// when none exists yet.
func LoadWatermark(path string, start time.Time) (*Watermark, error) {
	w := &Watermark{path: path, at: start}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	var f watermarkFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse watermark: %w", err)
	}
	if f.At.After(w.at) {
		w.at = f.At
	}
	return w, nil
}

// Get returns the current cutoff.
func (w *Watermark) Get() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.at
}

// Advance moves the cutoff forward and persists it. Moves backward are
// ignored.
func (w *Watermark) Advance(t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !t.After(w.at) {
		return nil
	}
	w.at = t

	data, err := json.MarshalIndent(watermarkFile{At: w.at}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("rename watermark: %w", err)
	}
	return nil
}

// DefaultWatermarkPath returns the watermark location inside dataDir.
func DefaultWatermarkPath(dataDir string) string {
	return filepath.Join(dataDir, "watermark.json")
}
