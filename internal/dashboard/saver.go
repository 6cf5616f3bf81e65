package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

type save struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Saver writes preference strings for one user. A value is written only
// when it differs from the last value written or loaded for its key, and
// a new save aborts the in-flight save of the same key.
type Saver struct {
	store   core.PreferenceStore
	userID  string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	saved    map[string]string
	inflight map[string]*save
	wg       sync.WaitGroup
}

// NewSaver creates a saver. store may be nil, which disables persistence.
func NewSaver(store core.PreferenceStore, userID string, logger *slog.Logger, m *metrics.Metrics) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		store:    store,
		userID:   userID,
		logger:   logger,
		metrics:  m,
		saved:    make(map[string]string),
		inflight: make(map[string]*save),
	}
}

// Load reads a stored value and remembers it as saved.
func (s *Saver) Load(ctx context.Context, prefID string) (string, bool, error) {
	if s.store == nil || prefID == "" {
		return "", false, nil
	}
	value, ok, err := s.store.GetPreference(ctx, s.userID, prefID)
	if err != nil || !ok {
		return "", false, err
	}
	s.mu.Lock()
	s.saved[prefID] = value
	s.mu.Unlock()
	return value, true, nil
}

// Save stores value under prefID in the background. It reports whether a
// write was issued.
func (s *Saver) Save(prefID, value string) bool {
	if s.store == nil || prefID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.saved[prefID]; ok && prev == value {
		return false
	}
	s.saved[prefID] = value

	var prevDone chan struct{}
	if prev, ok := s.inflight[prefID]; ok {
		prev.cancel()
		prevDone = prev.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	sv := &save{cancel: cancel, done: make(chan struct{})}
	s.inflight[prefID] = sv

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sv.done)
		defer cancel()

		// The aborted write must finish before this one starts.
		if prevDone != nil {
			<-prevDone
		}
		err := s.write(ctx, prefID, value)

		s.mu.Lock()
		if s.inflight[prefID] == sv {
			delete(s.inflight, prefID)
			// The store does not hold value, so the next save of it must
			// be written.
			if err != nil && s.saved[prefID] == value {
				delete(s.saved, prefID)
			}
		}
		s.mu.Unlock()
	}()
	return true
}

// write reports a failed write; an aborted one is not a failure.
func (s *Saver) write(ctx context.Context, prefID, value string) error {
	if ctx.Err() != nil {
		s.logger.Debug("preference save aborted", "pref", prefID)
		return nil
	}
	err := s.store.SavePreference(ctx, s.userID, prefID, value)
	if errors.Is(err, context.Canceled) {
		s.logger.Debug("preference save aborted", "pref", prefID)
		return nil
	}
	s.metrics.PreferenceWritten(err)
	if err != nil {
		s.logger.Error("could not save preference", "pref", prefID, "error", err)
	}
	return err
}

// Wait blocks until all issued saves have finished.
func (s *Saver) Wait() {
	s.wg.Wait()
}

// Close aborts pending saves and waits for them.
func (s *Saver) Close() {
	s.mu.Lock()
	for _, sv := range s.inflight {
		sv.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
