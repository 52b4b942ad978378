package control

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpipe/adapter/rss"
	"feedpipe/adapter/sqlstore"
	"feedpipe/adapter/taskregistry"
	"feedpipe/app"
	"feedpipe/domain"
)

type fixtureFetcher struct {
	rec domain.Record
}

func (f fixtureFetcher) Fetch(context.Context, string) (domain.Record, error) {
	return f.rec, nil
}

type stubPool struct {
	workers int
}

func (p *stubPool) Resize(n int) error {
	if n <= 0 {
		return &domain.ConfigurationError{Msg: "worker count must be positive"}
	}
	p.workers = n
	return nil
}

func (p *stubPool) CurrentWorkers() int { return p.workers }

type nopQueue struct{}

func (nopQueue) Enqueue(app.Job) error { return nil }

func newTestServer(t *testing.T) (*Server, *taskregistry.Memory) {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.DriverSQLite, sqlstore.MemoryDSN)
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	data, err := os.ReadFile("../../adapter/rss/testdata/rss10.xml")
	require.NoError(t, err)
	rec, err := rss.Decode(data)
	require.NoError(t, err)

	registry := taskregistry.NewMemory()
	sources := app.NewSourceService(store,
		app.NewNormalizer(fixtureFetcher{rec: rec}),
		app.NewReconciler(store, app.ReconcileOptions{}),
		app.NewScheduler(registry, nopQueue{}),
		nopQueue{}, 15*time.Minute)
	return NewServer(sources, &stubPool{workers: 3}, 30*time.Minute), registry
}

func TestServerHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		expect string
	}{
		{"create", "POST", "/sources", `{"name":"golang","url":"https://go.dev/blog/feed.atom","interval":"1h"}`, 201, `"interval":"1h0m0s"`},
		{"duplicate", "POST", "/sources", `{"name":"golang","url":"https://go.dev/blog/feed.atom"}`, 409, `"error"`},
		{"missing url", "POST", "/sources", `{"name":"nourl"}`, 400, "name and url are required"},
		{"bad url", "POST", "/sources", `{"name":"ftp","url":"ftp://example.com"}`, 400, "invalid source url"},
		{"bad interval", "POST", "/sources", `{"name":"x","url":"https://x.example.com","interval":"soon"}`, 400, "invalid interval"},
		{"status", "GET", "/sources/golang/status", "", 200, `"status_desc":"Done"`},
		{"status unknown", "GET", "/sources/nope/status", "", 404, "not found"},
		{"update", "PATCH", "/sources/golang", `{"interval":"2h"}`, 200, `"interval":"2h0m0s"`},
		{"fetch", "POST", "/sources/golang/fetch", "", 202, "has been triggered"},
		{"fetch again", "POST", "/sources/golang/fetch", "", 202, `"in_progress":true`},
		{"workers", "POST", "/set-workers", `{"workers":5}`, 200, `"old":3`},
		{"workers zero", "POST", "/set-workers", `{"workers":0}`, 400, "positive"},
		{"delete", "DELETE", "/sources/golang", "", 200, `"ok":true`},
		{"delete again", "DELETE", "/sources/golang", "", 404, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := srv.App().Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Contains(t, string(body), tt.expect)
		})
	}
}

func TestServerMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestClientAgainstServer(t *testing.T) {
	srv, registry := newTestServer(t)
	ln, err := TryListen("127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown() })

	// A second daemon cannot bind the same address.
	_, err = TryListen(ln.Addr().String())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	client := NewClient(ln.Addr().String())

	src, err := client.AddSource("client", "https://client.example.com/rss", 0)
	require.NoError(t, err)
	assert.Equal(t, "30m0s", src.Interval)
	assert.Equal(t, "Done", src.FetchStatus)

	old, err := client.SetInterval("client", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, old)
	tasks, err := registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, time.Hour, tasks[0].Interval)

	trigger, err := client.Fetch(src.ID)
	require.NoError(t, err)
	assert.Equal(t, app.StatusPath(src.ID), trigger.StatusURL)

	report, err := client.Status("client")
	require.NoError(t, err)
	assert.Equal(t, "Pending", report.Label)

	prev, err := client.SetWorkers(8)
	require.NoError(t, err)
	assert.Equal(t, 3, prev)

	require.NoError(t, client.DeleteSource("client"))
	err = client.DeleteSource("client")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
