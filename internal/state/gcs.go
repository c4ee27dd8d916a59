package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrConcurrentWrite is returned when the object changed since it was read.
var ErrConcurrentWrite = errors.New("state object was modified by another writer")

// GCSBackend stores the document as a Cloud Storage object. Writes carry a
// generation precondition so a document written elsewhere is never clobbered.
// It assumes Application Default Credentials are configured.
type GCSBackend struct {
	client *storage.Client
	bucket string
	object string

	mu         sync.Mutex
	generation int64 // zero until read; zero after read means "does not exist"
}

// NewGCSBackend creates a backend for a gs:// URI.
func NewGCSBackend(ctx context.Context, uri string) (*GCSBackend, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket, object: object}, nil
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Location implements Blob.
func (g *GCSBackend) Location() string {
	return "gs://" + g.bucket + "/" + g.object
}

// Read implements Blob.
func (g *GCSBackend) Read(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rc, err := g.client.Bucket(g.bucket).Object(g.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		g.generation = 0
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("open object reader: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	g.generation = rc.Attrs.Generation
	return data, nil
}

// Write implements Blob.
func (g *GCSBackend) Write(ctx context.Context, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := g.client.Bucket(g.bucket).Object(g.object)
	if g.generation == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: g.generation})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("finalize upload: %w", ErrConcurrentWrite)
		}
		return fmt.Errorf("finalize upload: %w", err)
	}

	g.generation = w.Attrs().Generation
	return nil
}

// Close releases the storage client.
func (g *GCSBackend) Close() error {
	return g.client.Close()
}
