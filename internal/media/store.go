// Package media keeps operator-uploaded photos on local disk.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	kit "templatebot/internal/transport"
	"templatebot/pkg/logx"
)

const DefaultDir = "data/media"

// Downloader fetches a platform file to a local path.
type Downloader interface {
	Download(ctx context.Context, m kit.Media, dst string) error
}

type Store struct {
	dir string
	dl  Downloader
	log logx.Logger
}

func New(dir string, dl Downloader, log logx.Logger) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{dir: dir, dl: dl, log: log.With(logx.String("comp", "media"))}
}

func (s *Store) Dir() string { return s.dir }

// Save downloads m to <dir>/<unique_id>-<uuid>.jpg and returns the path.
// Every call gets its own file, so the same photo sent twice has two
// owners that release independently.
func (s *Store) Save(ctx context.Context, m kit.Media) (string, error) {
	if s.dl == nil {
		return "", errors.New("media: no downloader configured")
	}
	name := fileName(m)
	if name == "" {
		return "", errors.New("media: photo has no file id")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("media: create dir: %w", err)
	}
	dst := filepath.Join(s.dir, name)
	if err := s.dl.Download(ctx, m, dst); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("media: download: %w", err)
	}
	s.log.Debug("photo stored", logx.String("path", dst), logx.Int64("size", m.Size))
	return dst, nil
}

// Release removes a stored file. A missing file is not an error.
func (s *Store) Release(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: release %s: %w", path, err)
	}
	return nil
}

func fileName(m kit.Media) string {
	id := m.UniqueID
	if id == "" {
		id = m.FileID
	}
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	if id == "" {
		return ""
	}
	return id + "-" + uuid.NewString() + ".jpg"
}
