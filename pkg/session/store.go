package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shawkym/roomsync/pkg/log"
)

// ErrNotFound is returned by Load when no session file exists at the path.
// It wraps os.ErrNotExist.
var ErrNotFound = fmt.Errorf("session file not found: %w", os.ErrNotExist)

// Record is the on-disk session: exactly four fields.
type Record struct {
	Homeserver  string `json:"homeserver"`
	TimeoutMs   int64  `json:"timeout_ms"`
	AccessToken string `json:"access_token"`
	NextBatch   string `json:"next_batch"`
}

// Load reads a session record from path.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	return record, nil
}

// Save writes record to path in one atomic step: the data goes to a
// temporary sibling which is synced and renamed over the target, so readers
// see either the old record or the new one. The file is created 0600.
func Save(path string, record Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary session file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move session file into place: %w", err)
	}

	// Make the rename durable.
	if parent, err := os.Open(dir); err == nil {
		parent.Sync()
		parent.Close()
	}

	log.WithFields(map[string]interface{}{
		"path":       path,
		"has_token":  record.AccessToken != "",
		"next_batch": record.NextBatch,
	}).Debug("session saved")
	return nil
}
