package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
)

// ErrNotExist is returned by a Blob when no document has been written yet.
var ErrNotExist = errors.New("state document does not exist")

// Blob is where the serialized document lives.
type Blob interface {
	// Read returns the stored bytes or ErrNotExist.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the stored bytes atomically.
	Write(ctx context.Context, data []byte) error
	// Location describes the blob for logs and errors.
	Location() string
}

// Store loads and saves the state document. Every load-mutate-save cycle goes
// through a Session so that concurrent syncs never interleave writes.
type Store struct {
	blob Blob
	sem  *semaphore.Weighted
}

// NewStore creates a store on top of blob.
func NewStore(blob Blob) *Store {
	return &Store{blob: blob, sem: semaphore.NewWeighted(1)}
}

// Open builds a store from a location: "gs://bucket/object" selects Cloud
// Storage, anything else is a local path (an optional "file://" prefix is
// stripped).
func Open(ctx context.Context, uri string) (*Store, error) {
	if strings.HasPrefix(uri, "gs://") {
		blob, err := NewGCSBackend(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		return NewStore(blob), nil
	}
	return NewStore(NewFileBackend(strings.TrimPrefix(uri, "file://"))), nil
}

// Location describes where the document is stored.
func (s *Store) Location() string { return s.blob.Location() }

// Load reads the document. A missing document yields an empty one; a document
// that cannot be decoded yields a *domain.CorruptStateError.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	data, err := s.blob.Read(ctx)
	if errors.Is(err, ErrNotExist) {
		log := logger.FromContext(ctx)
		log.Info().Str("location", s.blob.Location()).Msg("No state document yet, starting empty")
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("Load: reading %s: %w", s.blob.Location(), err)
	}

	doc, err := Decode(data)
	if err != nil {
		return nil, &domain.CorruptStateError{Location: s.blob.Location(), Err: err}
	}
	return doc, nil
}

// Save writes the full document.
func (s *Store) Save(ctx context.Context, doc *Document) error {
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := s.blob.Write(ctx, data); err != nil {
		return fmt.Errorf("Save: writing %s: %w", s.blob.Location(), err)
	}
	return nil
}

// Close releases the underlying blob if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.blob.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Begin waits for exclusive access and loads the document.
// The caller must Close the session.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("Begin: waiting for state lock: %w", err)
	}

	doc, err := s.Load(ctx)
	if err != nil {
		s.sem.Release(1)
		return nil, err
	}
	return &Session{store: s, Doc: doc}, nil
}

// Session is exclusive access to a loaded document.
type Session struct {
	store  *Store
	Doc    *Document
	closed bool
}

// Checkpoint persists the current document while keeping the lock.
func (s *Session) Checkpoint(ctx context.Context) error {
	if s.closed {
		return errors.New("Checkpoint: session closed")
	}
	return s.store.Save(ctx, s.Doc)
}

// Close releases the lock without saving. Calling it twice is a no-op.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.store.sem.Release(1)
}

// Encode serializes the document as indented JSON.
func Encode(doc *Document) ([]byte, error) {
	doc.normalize()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a serialized document.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	for b := range doc.TargetAccounts {
		if _, err := domain.ParseBackend(string(b)); err != nil {
			return nil, fmt.Errorf("decode state: target_accounts: %w", err)
		}
	}
	for i, e := range doc.Mapping {
		if e == nil || e.SourceID == "" {
			return nil, fmt.Errorf("decode state: mapping[%d] has no source_id", i)
		}
	}
	doc.normalize()
	return &doc, nil
}
