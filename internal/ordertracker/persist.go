// Package ordertracker maintains the append-only trade ledger and the
// shared atomic-file persistence primitive used by both the ledger
// and the grid engine's own EngineState.
package ordertracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteJSON marshals v and writes it to path via write-temp,
// fsync-if-possible, rename. The live file is never opened for write
// directly. On any failure the temp file is removed.
func AtomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadJSON loads and unmarshals path into v. Returns (false, nil) if
// the file does not exist yet, since a fresh symbol has no prior state.
func ReadJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return true, nil
}

// StatePath and TradesPath build the per-symbol persisted file names
// named in the external-interfaces contract.
func StatePath(dir, fileStem string) string {
	return filepath.Join(dir, fmt.Sprintf("trader_state_%s.json", fileStem))
}

func TradesPath(dir, fileStem string) string {
	return filepath.Join(dir, fmt.Sprintf("trade_history_%s.json", fileStem))
}
