package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

// DefaultPath is the transcript file used when none is configured.
const DefaultPath = "chat_history.json"

// FileStore keeps the transcript in one JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path (DefaultPath if empty).
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string { return s.path }

// Load reads the file. A missing or unreadable document yields an empty transcript.
func (s *FileStore) Load(ctx context.Context) ([]Record, error) {
	log := zerolog.Ctx(ctx)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Transcript file is corrupt, starting empty")
		return []Record{}, nil
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Save writes the whole transcript to a temporary file and renames it into place.
func (s *FileStore) Save(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace transcript: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("path", s.path).Int("records", len(records)).Msg("Transcript saved")
	return nil
}

// Health reports whether the transcript directory is writable.
func (s *FileStore) Health(ctx context.Context) map[string]string {
	stats := map[string]string{"backend": "file", "path": s.path}

	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil || !info.IsDir() {
		stats["status"] = "down"
		if err != nil {
			stats["error"] = err.Error()
		}
		return stats
	}

	stats["status"] = "up"
	if fi, err := os.Stat(s.path); err == nil {
		stats["size_bytes"] = strconv.FormatInt(fi.Size(), 10)
	}
	return stats
}
