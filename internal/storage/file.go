package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"templatebot/pkg/logx"
)

// fileStore is the dependency-free backend: the whole template set lives in
// one JSON snapshot, rewritten through a temp file + rename on every change.
type fileStore struct {
	*memStore
	path string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fs := &fileStore{path: path, log: log}
	fs.memStore = newMemStore(fs.write)

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		var st memState
		if err := json.Unmarshal(b, &st); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		fs.load(st)
		log.Info("templates loaded", logx.Int("count", len(st.Templates)))
	}
	return fs, nil
}

func (s *fileStore) write(st memState) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
