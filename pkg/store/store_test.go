package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/anggasct/admitflow"
)

func TestHashBytes(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashBytes([]byte("abc")))
	assert.Len(t, HashBytes(nil), 64)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"diploma.PDF":             ".pdf",
		"photo.jpeg":              ".jpeg",
		"../../etc/passwd":        "",
		"archive.tar.gz":          ".gz",
		"weird.p d f":             "",
		"noext":                   "",
		"scan.verylongextension1": "",
	}
	for name, expected := range cases {
		assert.Equal(t, expected, Extension(name), name)
	}
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)

	data := []byte("%PDF-1.4 transcript")
	obj, err := s.Store(ctx, data, "../../My Transcript.PDF")
	require.NoError(t, err)

	assert.NotContains(t, obj.Path, "Transcript")
	assert.True(t, strings.HasSuffix(obj.Path, ".pdf"))
	assert.Equal(t, HashBytes(data), obj.Hash)
	assert.Equal(t, int64(len(data)), obj.Size)

	got, err := s.Read(ctx, obj.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	second, err := s.Store(ctx, data, "transcript.pdf")
	require.NoError(t, err)
	assert.NotEqual(t, obj.Path, second.Path, "names must not collide")
	assert.Equal(t, obj.Hash, second.Hash)

	require.NoError(t, s.Delete(ctx, obj.Path))
	_, err = s.Read(ctx, obj.Path)
	assert.ErrorIs(t, err, admitflow.ErrNotFound)
	require.NoError(t, s.Delete(ctx, obj.Path), "deleting twice is fine")
}

func TestLocalStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "private"))
	require.NoError(t, err)

	obj, err := s.Store(context.Background(), []byte("secret"), "id.png")
	require.NoError(t, err)

	dirInfo, err := os.Stat(s.Root())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(s.Root(), obj.Path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocalStore_PathEscape(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(filepath.Join(root, "docs"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "outside.txt"), []byte("x"), 0o600))

	for _, p := range []string{"../outside.txt", "", ".", filepath.Join(root, "outside.txt")} {
		_, err := s.Read(context.Background(), p)
		assert.ErrorIs(t, err, admitflow.ErrNotFound, p)
	}
}

func TestLocalStore_CancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Store(ctx, []byte("x"), "a.pdf")
	assert.ErrorIs(t, err, admitflow.ErrStorage)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	obj, err := s.Store(ctx, []byte("photo"), "me.jpg")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	got, err := s.Read(ctx, obj.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("photo"), got)

	s.FailWrite = func(name string) error { return errors.New("disk full") }
	_, err = s.Store(ctx, []byte("x"), "x.pdf")
	var se *admitflow.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "write", se.Op)

	require.NoError(t, s.Delete(ctx, obj.Path))
	_, err = s.Read(ctx, obj.Path)
	assert.ErrorIs(t, err, admitflow.ErrNotFound)
}

func TestGCSStore_RejectsForeignPaths(t *testing.T) {
	ctx := context.Background()
	client, err := storage.NewClient(ctx, option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1/storage/v1/"))
	require.NoError(t, err)
	defer client.Close()

	s := NewGCSStore(client, "bucket", "/documents/")
	assert.Equal(t, "documents/abc.pdf", s.objectPath("abc.pdf"))

	for _, p := range []string{"other/abc.pdf", "documents/../x", ""} {
		_, err := s.Read(ctx, p)
		assert.ErrorIs(t, err, admitflow.ErrNotFound, p)
		assert.NoError(t, s.Delete(ctx, p))
	}
	assert.NoError(t, s.Close(), "borrowed clients are not closed")
}
