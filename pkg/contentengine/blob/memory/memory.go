// Package memory provides an in-memory BlobStore for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Object is one stored blob.
type Object struct {
	Data        []byte
	ContentType string
	UploadedAt  time.Time
}

// Store implements contentengine.BlobStore in memory. Download URLs
// are synthetic "memory://" URLs useful only for assertions.
type Store struct {
	mu      sync.RWMutex
	objects map[string]Object
	urlTTL  time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithURLTTL sets the lifetime reported for download URLs.
func WithURLTTL(ttl time.Duration) Option {
	return func(s *Store) { s.urlTTL = ttl }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory blob store.
func New(opts ...Option) *Store {
	s := &Store{
		objects: make(map[string]Object),
		urlTTL:  time.Hour,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{
		Data:        data,
		ContentType: contentType,
		UploadedAt:  s.now().UTC(),
	}
	return nil
}

func (s *Store) GetDownloadURL(ctx context.Context, key, downloadFilename string) (string, time.Time, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", time.Time{}, fmt.Errorf("object %q not found", key)
	}
	return "memory://" + key, s.now().Add(s.urlTTL), nil
}

// Get returns a stored object, for test assertions.
func (s *Store) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
