package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "templatebot/internal/transport"
	"templatebot/pkg/logx"
)

type fakeDownloader struct {
	err  error
	seen []string
}

func (f *fakeDownloader) Download(_ context.Context, _ kit.Media, dst string) error {
	f.seen = append(f.seen, dst)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("jpeg"), 0o644)
}

func TestSaveAndRelease(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "media")
	dl := &fakeDownloader{}
	s := New(dir, dl, logx.Nop())

	path, err := s.Save(context.Background(), kit.Media{FileID: "f", UniqueID: "AQAD/x1"})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "AQAD_x1-"), path)
	assert.True(t, strings.HasSuffix(path, ".jpg"), path)
	assert.FileExists(t, path)

	require.NoError(t, s.Release(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, s.Release(path), "second release is a no-op")
	assert.NoError(t, s.Release(""))
}

func TestSaveDownloadFailure(t *testing.T) {
	t.Parallel()
	dl := &fakeDownloader{err: errors.New("network")}
	s := New(t.TempDir(), dl, logx.Nop())
	_, err := s.Save(context.Background(), kit.Media{FileID: "f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network")
}

func TestSaveRejectsEmptyMedia(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir(), &fakeDownloader{}, logx.Nop())
	_, err := s.Save(context.Background(), kit.Media{})
	assert.Error(t, err)
}

func TestSamePhotoSavedTwiceIsReleasedIndependently(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir(), &fakeDownloader{}, logx.Nop())
	m := kit.Media{FileID: "f", UniqueID: "same"}

	a, err := s.Save(context.Background(), m)
	require.NoError(t, err)
	b, err := s.Save(context.Background(), m)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, s.Release(b))
	assert.FileExists(t, a)
	assert.NoFileExists(t, b)
}
