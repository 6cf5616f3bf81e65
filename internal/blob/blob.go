// Package blob keeps generated export artifacts addressable by a
// revocable URL until their owner revokes them.
package blob

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/vulndash/internal/metrics"
)

// DefaultPrefix is the URL path blobs are served under.
const DefaultPrefix = "/blobs/"

// Blob is one stored artifact.
type Blob struct {
	ID          string
	ContentType string
	Filename    string
	Data        []byte
	Created     time.Time
}

// Store maps blob URLs to their content.
type Store struct {
	prefix  string
	metrics *metrics.Metrics

	mu    sync.RWMutex
	blobs map[string]*Blob
}

// NewStore creates an empty store. An empty prefix means DefaultPrefix.
func NewStore(prefix string, m *metrics.Metrics) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{prefix: prefix, metrics: m, blobs: make(map[string]*Blob)}
}

// Create stores data and returns its URL.
func (s *Store) Create(data []byte, contentType, filename string) string {
	b := &Blob{
		ID:          uuid.NewString(),
		ContentType: contentType,
		Filename:    filename,
		Data:        data,
		Created:     time.Now(),
	}

	s.mu.Lock()
	s.blobs[b.ID] = b
	n := len(s.blobs)
	s.mu.Unlock()

	s.metrics.SetBlobsLive(n)
	return s.prefix + b.ID
}

// Revoke makes a URL unusable. Unknown URLs are ignored.
func (s *Store) Revoke(url string) {
	id, ok := strings.CutPrefix(url, s.prefix)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.blobs, id)
	n := len(s.blobs)
	s.mu.Unlock()

	s.metrics.SetBlobsLive(n)
}

// Get looks a blob up by id.
func (s *Store) Get(id string) (*Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Resolve looks a blob up by URL.
func (s *Store) Resolve(url string) (*Blob, bool) {
	id, ok := strings.CutPrefix(url, s.prefix)
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

// Len returns the number of live blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
