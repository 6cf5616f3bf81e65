package dashboards

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/internal/testutil"
	"github.com/leapstack-labs/vulndash/internal/ui/features"
	"github.com/leapstack-labs/vulndash/internal/ui/features/common"
)

// =============================================================================
// Test Setup Helpers
// =============================================================================

// browser replays the session cookie like a real browser, so every request
// reaches the same mounted dashboard.
type browser struct {
	t       *testing.T
	router  chi.Router
	cookies []*http.Cookie
}

func setupTestRouter(t *testing.T) (*browser, *features.TestFixture) {
	t.Helper()

	fixture := features.SetupTestFixture(t)
	router := chi.NewRouter()
	require.NoError(t, SetupRoutes(
		router,
		fixture.Registry,
		fixture.Prefs,
		fixture.SessionStore,
		fixture.Notifier,
		fixture.Metrics,
		testutil.NewTestLogger(t),
	))
	return &browser{t: t, router: router}, fixture
}

func (b *browser) do(method, path, body string) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	if set := features.SessionCookies(rec.Header()); len(set) > 0 {
		b.cookies = set
	}
	return rec
}

func (b *browser) state() common.DashboardView {
	b.t.Helper()
	rec := b.do(http.MethodGet, "/dashboards/main/state", "")
	require.Equal(b.t, http.StatusOK, rec.Code, rec.Body.String())
	var view common.DashboardView
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

// =============================================================================
// Read endpoints
// =============================================================================

func TestIndex(t *testing.T) {
	b, _ := setupTestRouter(t)

	rec := b.do(http.MethodGet, "/dashboards", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var links []common.DashboardLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &links))
	assert.Equal(t, []common.DashboardLink{{ID: "main", Title: "NVTs"}}, links)
}

func TestPage(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "renders the dashboard shell with its charts",
			path:       "/dashboards/main/",
			wantStatus: http.StatusOK,
			wantBody: []string{
				"<!doctype html>",
				"<title>NVTs - vulndash</title>",
				"data-init",
				"/dashboards/main/updates",
				"/static/style.css",
				"/static/dashboard.js",
				`data-dashboard="main"`,
				"chart-box",
			},
		},
		{
			name:       "unknown dashboard",
			path:       "/dashboards/nope/",
			wantStatus: http.StatusNotFound,
			wantBody:   []string{"error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := setupTestRouter(t)

			rec := b.do(http.MethodGet, tt.path, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := rec.Body.String()
			for _, want := range tt.wantBody {
				assert.Contains(t, body, want, "response should contain %q", want)
			}
		})
	}
}

func TestPage_IssuesSession(t *testing.T) {
	b, fixture := setupTestRouter(t)

	b.do(http.MethodGet, "/dashboards/main/", "")
	require.NotEmpty(t, b.cookies, "first visit sets the session cookie")
	assert.Equal(t, common.SessionName, b.cookies[0].Name)

	b.do(http.MethodGet, "/dashboards/main/", "")
	assert.Len(t, fixture.Registry.MountedDashboards(), 1, "same session reuses the mounted dashboard")
}

func TestState(t *testing.T) {
	b, _ := setupTestRouter(t)

	view := b.state()

	assert.Equal(t, "main", view.ID)
	assert.Equal(t, "NVTs", view.Title)
	assert.Equal(t, "view", view.Mode)
	assert.False(t, view.Editing)
	assert.True(t, view.CanAdd)
	assert.Equal(t, 2, view.Total)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, 300, view.Rows[0].Height)
	require.Len(t, view.Rows[0].Components, 2)
	assert.Equal(t, "by-cvss", view.Rows[0].Components[0].Chart)
	assert.Equal(t, "by-class", view.Rows[0].Components[1].Chart)
	assert.Equal(t, []string{"by-cvss", "by-class"}, view.Rows[0].Components[0].Charts)
	assert.True(t, view.Rows[0].Components[0].FilterSelectable)
}

// =============================================================================
// Edit endpoints
// =============================================================================

func TestActions_RequireEditMode(t *testing.T) {
	b, _ := setupTestRouter(t)
	view := b.state()
	component := view.Rows[0].Components[0].ID
	row := view.Rows[0].ID

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"remove", http.MethodDelete, "/dashboards/main/components/" + component, ""},
		{"reorder", http.MethodPost, "/dashboards/main/reorder", `{"component":"` + component + `","row":"new-top","index":0}`},
		{"row height", http.MethodPost, "/dashboards/main/rows/" + row + "/height", `{"height":400}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		})
	}
}

func TestActions_EditSession(t *testing.T) {
	b, fixture := setupTestRouter(t)
	view := b.state()
	first := view.Rows[0].Components[0].ID
	row := view.Rows[0].ID

	rec := b.do(http.MethodPost, "/dashboards/main/edit/start", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, b.state().Editing)

	rec = b.do(http.MethodPost, "/dashboards/main/components", `{"chart":"by-class"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 3, b.state().Total)

	rec = b.do(http.MethodPost, "/dashboards/main/reorder", `{"component":"`+first+`","row":"new-bottom","index":0}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	view = b.state()
	require.Len(t, view.Rows, 2)
	assert.Equal(t, first, view.Rows[1].Components[0].ID)

	rec = b.do(http.MethodPost, "/dashboards/main/rows/"+row+"/height", `{"height":333}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 330, b.state().Rows[0].Height, "heights snap to the grid")

	rec = b.do(http.MethodDelete, "/dashboards/main/components/"+first, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, b.state().Total)

	rec = b.do(http.MethodPost, "/dashboards/main/edit/stop", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, b.state().Editing)

	assert.Len(t, fixture.Registry.MountedDashboards(), 1)
}

func TestActions_Errors(t *testing.T) {
	b, _ := setupTestRouter(t)
	b.state()
	require.Equal(t, http.StatusNoContent, b.do(http.MethodPost, "/dashboards/main/edit/start", "").Code)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"malformed signals", http.MethodPost, "/dashboards/main/reorder", `{"component":`, http.StatusBadRequest},
		{"reorder without target", http.MethodPost, "/dashboards/main/reorder", `{"component":"x"}`, http.StatusBadRequest},
		{"unknown component", http.MethodDelete, "/dashboards/main/components/nope", "", http.StatusNotFound},
		{"unknown row", http.MethodPost, "/dashboards/main/rows/nope/height", `{"height":300}`, http.StatusNotFound},
		{"select chart of unknown component", http.MethodPost, "/dashboards/main/components/nope/chart", `{"chart":"by-cvss"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestActions_SelectFilter(t *testing.T) {
	b, fixture := setupTestRouter(t)
	component := b.state().Rows[0].Components[0].ID

	rec := b.do(http.MethodPost, "/dashboards/main/components/"+component+"/filter", `{"filter":"f1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "f1", b.state().Rows[0].Components[0].Filter)

	assert.Eventually(t, func() bool {
		value, ok, err := fixture.Prefs.GetPreference(context.Background(), userOf(t, fixture, b), "main-filters")
		return err == nil && ok && strings.Contains(value, "f1")
	}, 2*time.Second, 10*time.Millisecond, "filter selection is persisted")
}

func TestActions_NotifySubscribers(t *testing.T) {
	b, fixture := setupTestRouter(t)
	b.state()
	key := common.MountKey(userOf(t, fixture, b), "main")

	updates := fixture.Notifier.Subscribe(key)
	defer fixture.Notifier.Unsubscribe(key, updates)
	for len(updates) > 0 {
		<-updates
	}

	require.Equal(t, http.StatusNoContent, b.do(http.MethodPost, "/dashboards/main/refresh", "").Code)

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("refresh did not notify the update stream")
	}
}

func TestUnmount(t *testing.T) {
	b, fixture := setupTestRouter(t)
	b.state()
	require.Len(t, fixture.Registry.MountedDashboards(), 1)

	rec := b.do(http.MethodDelete, "/dashboards/main/", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, fixture.Registry.MountedDashboards())
}

// userOf decodes the session cookie of b.
func userOf(t *testing.T, fixture *features.TestFixture, b *browser) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	id, created, err := common.UserID(fixture.SessionStore, httptest.NewRecorder(), req)
	require.NoError(t, err)
	require.False(t, created)
	return id
}

// =============================================================================
// Update stream
// =============================================================================

func TestUpdates_StreamsAndReloadsAfterUnmount(t *testing.T) {
	_, fixture := setupTestRouter(t)
	router := chi.NewRouter()
	require.NoError(t, SetupRoutes(router, fixture.Registry, fixture.Prefs, fixture.SessionStore,
		fixture.Notifier, fixture.Metrics, testutil.NewTestLogger(t)))
	srv := httptest.NewServer(router)
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/dashboards/main/updates", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	lines.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	waitFor := func(substr string) {
		t.Helper()
		for lines.Scan() {
			if strings.Contains(lines.Text(), substr) {
				return
			}
		}
		t.Fatalf("stream ended before %q: %v", substr, lines.Err())
	}

	waitFor("event: datastar-patch-elements")
	waitFor(`data-dashboard="main"`)

	assert.Equal(t, 1, fixture.Registry.UnmountAll())
	fixture.Notifier.Broadcast()

	waitFor("window.location.reload()")
}
