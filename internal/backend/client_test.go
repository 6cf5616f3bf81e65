package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

func TestAggregateParams_Values(t *testing.T) {
	p := AggregateParams{
		AggregateType:  "nvt",
		GroupColumn:    "family",
		SubgroupColumn: "severity_level",
		DataColumns:    []string{"severity", "qod"},
		TextColumns:    []string{"name"},
		Sort:           []SortSpec{{Field: "count", Order: "descending", Stat: "sum"}},
		MaxGroups:      10,
	}
	v := p.Values()

	assert.Equal(t, "nvt", v.Get("aggregate_type"))
	assert.Equal(t, "family", v.Get("group_column"))
	assert.Equal(t, "severity", v.Get("data_columns:0"))
	assert.Equal(t, "qod", v.Get("data_columns:1"))
	assert.Equal(t, "name", v.Get("text_columns:0"))
	assert.Equal(t, "descending", v.Get("sort_orders:0"))
	assert.Equal(t, "sum", v.Get("sort_stats:0"))
	assert.Equal(t, "10", v.Get("max_groups"))
	assert.False(t, v.Has("first_group"))
	assert.False(t, v.Has("data_column"))
}

func TestWithFilter(t *testing.T) {
	base := url.Values{"aggregate_type": {"task"}}
	got := WithFilter(base, core.Filter{ID: "f1", Term: "rows=10"})

	assert.Equal(t, "f1", got.Get("filt_id"))
	assert.Equal(t, "rows=10", got.Get("filter"))
	assert.False(t, base.Has("filt_id"), "input must not be modified")

	got = WithFilter(base, core.Filter{})
	assert.False(t, got.Has("filt_id"))
	assert.False(t, got.Has("filter"))
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	return c, srv
}

func TestClient_Fetch(t *testing.T) {
	var gotQuery url.Values
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmp", r.URL.Path)
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`<get_aggregates_response status="200"/>`))
	})

	body, err := c.Fetch(context.Background(), CmdAggregate, url.Values{"aggregate_type": {"nvt"}})
	require.NoError(t, err)
	assert.Contains(t, string(body), "get_aggregates_response")
	assert.Equal(t, CmdAggregate, gotQuery.Get("cmd"))
	assert.Equal(t, "secret", gotQuery.Get("token"))
	assert.Equal(t, "nvt", gotQuery.Get("aggregate_type"))
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrUnauthorized))
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var he *HTTPError
				require.True(t, errors.As(err, &he))
				assert.Equal(t, 500, he.Code)
				assert.Equal(t, "boom", he.Text)
				assert.NotContains(t, he.URL, "secret")
				assert.Contains(t, he.URL, "cmd=get_tasks")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("boom"))
			})
			_, err := c.Fetch(context.Background(), CmdTasks, nil)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_FetchCanceled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, CmdTasks, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "/relative"})
	assert.Error(t, err)
}
