package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/anggasct/admitflow"
)

// GCSStore keeps documents in a private Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// NewGCSClient creates a storage client, using a credentials file when given
// and application default credentials otherwise
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud storage client: %w", err)
	}
	return client, nil
}

// NewGCSStore wraps an existing client. The caller keeps ownership of it.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// OpenGCSStore creates a client and a store that closes it on Close
func OpenGCSStore(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStore, error) {
	client, err := NewGCSClient(ctx, credentialsFile)
	if err != nil {
		return nil, admitflow.NewStorageError("init", bucket, err)
	}
	s := NewGCSStore(client, bucket, prefix)
	s.owned = true
	return s, nil
}

// Close releases the client if the store created it
func (s *GCSStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func (s *GCSStore) objectPath(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Store uploads data under <prefix>/<uuid><ext>
func (s *GCSStore) Store(ctx context.Context, data []byte, suggestedName string) (Object, error) {
	name := s.objectPath(objectName(suggestedName))
	obj := s.client.Bucket(s.bucket).Object(name)

	// DoesNotExist makes the upload fail rather than overwrite
	wc := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	wc.ContentType = "application/octet-stream"

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return Object{}, admitflow.NewStorageError("write", name, err)
	}
	if err := wc.Close(); err != nil {
		return Object{}, admitflow.NewStorageError("write", name, err)
	}

	return Object{Path: name, Hash: HashBytes(data), Size: int64(len(data))}, nil
}

// Read downloads the object
func (s *GCSStore) Read(ctx context.Context, name string) ([]byte, error) {
	if !s.owns(name) {
		return nil, admitflow.NewNotFoundError("document", name)
	}
	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, admitflow.NewNotFoundError("document", name)
		}
		return nil, admitflow.NewStorageError("read", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, admitflow.NewStorageError("read", name, err)
	}
	return data, nil
}

// Delete removes the object
func (s *GCSStore) Delete(ctx context.Context, name string) error {
	if !s.owns(name) {
		return nil
	}
	err := s.client.Bucket(s.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return admitflow.NewStorageError("delete", name, err)
	}
	return nil
}

// owns reports whether name lies under the store's prefix
func (s *GCSStore) owns(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	return s.prefix == "" || strings.HasPrefix(name, s.prefix+"/")
}
