// Package ui serves the dashboards over HTTP: pages, the datastar update
// stream, exports and detached charts.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/config"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/registry"
	"github.com/leapstack-labs/vulndash/internal/ui/notifier"
	"github.com/leapstack-labs/vulndash/internal/ui/router"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// configDebounce collapses the burst of events an editor save produces.
const configDebounce = 100 * time.Millisecond

// Server is the main UI server.
type Server struct {
	registry        *registry.Registry
	blobs           *blob.Store
	prefs           core.PreferenceStore
	metrics         *metrics.Metrics
	sessionStore    *sessions.CookieStore
	addr            string
	refreshInterval time.Duration
	watch           bool
	configPath      string
	dev             bool
	logger          *slog.Logger
	notifier        *notifier.Notifier
}

// Config holds configuration for the UI server.
type Config struct {
	Registry *registry.Registry
	Blobs    *blob.Store
	Prefs    core.PreferenceStore // nil disables layout persistence
	Metrics  *metrics.Metrics
	Notifier *notifier.Notifier // nil creates one

	Addr            string
	RefreshInterval time.Duration // zero disables periodic refresh
	SessionSecret   string        // empty generates a per-process key
	Watch           bool
	ConfigPath      string
	Dev             bool
	Logger          *slog.Logger
}

// NewServer creates a new UI server instance.
func NewServer(cfg Config) *Server {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
	}
	sessionStore := sessions.NewCookieStore(secret)
	sessionStore.MaxAge(86400 * 30) // 30 days
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notify := cfg.Notifier
	if notify == nil {
		notify = notifier.New()
	}

	return &Server{
		registry:        cfg.Registry,
		blobs:           cfg.Blobs,
		prefs:           cfg.Prefs,
		metrics:         cfg.Metrics,
		sessionStore:    sessionStore,
		addr:            cfg.Addr,
		refreshInterval: cfg.RefreshInterval,
		watch:           cfg.Watch && cfg.ConfigPath != "",
		configPath:      cfg.ConfigPath,
		dev:             cfg.Dev,
		logger:          logger,
		notifier:        notify,
	}
}

// Handler builds the router with all middleware and routes.
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	deps := router.Deps{
		Registry:     s.registry,
		Blobs:        s.blobs,
		Prefs:        s.prefs,
		SessionStore: s.sessionStore,
		Notifier:     s.notifier,
		Metrics:      s.metrics,
		Logger:       s.logger,
	}
	if err := router.SetupRoutes(r, deps, s.dev); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	return r, nil
}

// Serve starts the UI server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting UI server", "addr", "http://"+s.addr)

	eg, egctx := errgroup.WithContext(ctx)

	handler, err := s.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    s.addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Reload descriptors when the config file changes
	if s.watch {
		eg.Go(func() error {
			return s.watchConfig(egctx)
		})
	}

	if s.refreshInterval > 0 {
		eg.Go(func() error {
			s.refreshLoop(egctx)
			return nil
		})
	}

	// Start HTTP server
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down UI server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Notifier returns the server's notifier for SSE updates.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// SessionStore returns the cookie store carrying the user ids.
func (s *Server) SessionStore() sessions.Store {
	return s.sessionStore
}

// refreshLoop reloads every mounted dashboard on each tick.
func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshAll()
		}
	}
}

// RefreshAll reloads the charts of every mounted dashboard.
func (s *Server) RefreshAll() {
	dashboards := s.registry.MountedDashboards()
	for _, d := range dashboards {
		d.Refresh()
	}
	if len(dashboards) > 0 {
		s.logger.Debug("refreshed dashboards", "count", len(dashboards))
	}
}

// ResetAll unmounts every dashboard and tells all open pages to reload.
// It runs after a configuration change and when the backend session
// expired.
func (s *Server) ResetAll(reason string) {
	n := s.registry.UnmountAll()
	s.notifier.Broadcast()
	s.logger.Info("dashboards reset", "reason", reason, "unmounted", n)
}

// ReloadConfig reads the config file again and swaps the descriptors in.
// An invalid file keeps the running configuration.
func (s *Server) ReloadConfig() error {
	cfg, err := config.LoadFile(s.configPath)
	if err != nil {
		return err
	}
	s.registry.Reload(cfg)
	s.ResetAll("config changed")
	return nil
}

// watchConfig watches the directory of the config file, since editors
// often replace the file instead of writing it.
func (s *Server) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(s.configPath)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		s.logger.Error("failed to watch config directory", "error", err)
		// Don't fail - continue without watching
	}

	// Debounce timer
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, _ := filepath.Abs(event.Name); name != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(configDebounce, func() {
				s.logger.Debug("config changed, reloading", "file", event.Name)
				if err := s.ReloadConfig(); err != nil {
					s.logger.Error("config reload failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}
