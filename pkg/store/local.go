package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/anggasct/admitflow"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// LocalStore keeps documents on the local filesystem under a private root
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory (owner-only) if needed
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, admitflow.NewStorageError("init", root, err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, admitflow.NewStorageError("init", abs, err)
	}
	if err := os.Chmod(abs, dirPerm); err != nil {
		return nil, admitflow.NewStorageError("init", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute storage directory
func (s *LocalStore) Root() string {
	return s.root
}

// Store writes data through a temp file and renames it into place
func (s *LocalStore) Store(ctx context.Context, data []byte, suggestedName string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, admitflow.NewStorageError("write", "", err)
	}

	name := objectName(suggestedName)
	target := filepath.Join(s.root, name)

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return Object{}, admitflow.NewStorageError("write", name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		cleanup()
		return Object{}, admitflow.NewStorageError("write", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return Object{}, admitflow.NewStorageError("write", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return Object{}, admitflow.NewStorageError("write", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return Object{}, admitflow.NewStorageError("write", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return Object{}, admitflow.NewStorageError("write", name, err)
	}

	return Object{Path: name, Hash: HashBytes(data), Size: int64(len(data))}, nil
}

// Read returns the stored bytes
func (s *LocalStore) Read(ctx context.Context, path string) ([]byte, error) {
	full, ok := s.resolve(path)
	if !ok {
		return nil, admitflow.NewNotFoundError("document", path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, admitflow.NewNotFoundError("document", path)
		}
		return nil, admitflow.NewStorageError("read", path, err)
	}
	return data, nil
}

// Delete removes the stored file
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	full, ok := s.resolve(path)
	if !ok {
		return nil
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return admitflow.NewStorageError("delete", path, err)
	}
	return nil
}

// resolve maps a locator to a file under root. Locators escaping the root
// do not resolve.
func (s *LocalStore) resolve(path string) (string, bool) {
	if path == "" || filepath.IsAbs(path) {
		return "", false
	}
	full := filepath.Join(s.root, filepath.Clean(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return full, true
}
