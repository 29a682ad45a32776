// Package store persists raw document bytes. Objects are named from a random
// identifier, never from the uploaded file name.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Object describes a stored blob
type Object struct {
	// Path is an opaque locator understood by the store that wrote it
	Path string
	// Hash is the hex SHA-256 of the content
	Hash string
	Size int64
}

// DocumentStore writes and reads document bytes
type DocumentStore interface {
	// Store writes data and returns its locator and content hash. On failure
	// it returns *admitflow.StorageError and leaves nothing behind.
	Store(ctx context.Context, data []byte, suggestedName string) (Object, error)
	// Read returns the bytes at path or *admitflow.NotFoundError
	Read(ctx context.Context, path string) ([]byte, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}

// HashBytes returns the hex SHA-256 digest of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Extension returns the lower-cased extension of name, or "" when it is
// missing or contains anything but letters and digits
func Extension(name string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}

// objectName builds the collision-resistant name for a new object
func objectName(suggestedName string) string {
	return uuid.NewString() + Extension(suggestedName)
}
