package chart

import (
	"sort"
	"sync"

	"github.com/leapstack-labs/vulndash/internal/metrics"
)

// BlobStore hands out revocable URLs for generated content.
type BlobStore interface {
	Create(data []byte, contentType, filename string) string
	Revoke(url string)
}

// Exports owns the current artifact URL of each export kind.
type Exports struct {
	store   BlobStore
	metrics *metrics.Metrics

	mu   sync.Mutex
	urls map[ExportKind]string
}

// NewExports creates an empty manager.
func NewExports(store BlobStore, m *metrics.Metrics) *Exports {
	return &Exports{store: store, metrics: m, urls: make(map[ExportKind]string)}
}

// Replace revokes the current URL of kind, then stores data under a new one.
func (e *Exports) Replace(kind ExportKind, data []byte, contentType, filename string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.urls[kind]; ok {
		e.store.Revoke(old)
		delete(e.urls, kind)
	}
	url := e.store.Create(data, contentType, filename)
	e.urls[kind] = url
	e.metrics.ExportCreated(string(kind))
	return url
}

// Revoke drops the artifact of one kind.
func (e *Exports) Revoke(kind ExportKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.urls[kind]; ok {
		e.store.Revoke(old)
		delete(e.urls, kind)
	}
}

// URL returns the current URL of kind.
func (e *Exports) URL(kind ExportKind) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	url, ok := e.urls[kind]
	return url, ok
}

// Kinds lists the kinds that currently have an artifact, in a stable order.
func (e *Exports) Kinds() []ExportKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make([]ExportKind, 0, len(e.urls))
	for k := range e.urls {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return exportOrder(kinds[i]) < exportOrder(kinds[j]) })
	return kinds
}

// RevokeAll revokes every artifact.
func (e *Exports) RevokeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for kind, url := range e.urls {
		e.store.Revoke(url)
		delete(e.urls, kind)
	}
}

func exportOrder(k ExportKind) int {
	switch k {
	case ExportCSV:
		return 0
	case ExportHTML:
		return 1
	default:
		return 2
	}
}
