package fakeserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAssignsServerID(t *testing.T) {
	srv, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/projects", `{"id":"local-1","title":"Deck"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, remote.OpCreate, calls[0].Op)
	assert.Equal(t, ir.Ref(ir.KindProject, "local-1"), calls[0].Ref)
	assert.Equal(t, http.StatusCreated, calls[0].Status)
	assert.Equal(t, 1, srv.Len())
}

func TestUnknownKind(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/widgets", `{"id":"local-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMalformedBody(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/tasks", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFaultMatching(t *testing.T) {
	tests := []struct {
		name  string
		fault Fault
		op    remote.Op
		ref   ir.EntityRef
		want  bool
	}{
		{"wildcard", Fault{}, remote.OpCreate, ir.Ref(ir.KindTask, "a"), true},
		{"op match", Fault{Op: remote.OpUpdate}, remote.OpUpdate, ir.Ref(ir.KindTask, "a"), true},
		{"op mismatch", Fault{Op: remote.OpUpdate}, remote.OpCreate, ir.Ref(ir.KindTask, "a"), false},
		{"kind mismatch", Fault{Kind: ir.KindProject}, remote.OpCreate, ir.Ref(ir.KindTask, "a"), false},
		{"id match", Fault{Kind: ir.KindTask, ID: "a"}, remote.OpDelete, ir.Ref(ir.KindTask, "a"), true},
		{"id mismatch", Fault{ID: "b"}, remote.OpDelete, ir.Ref(ir.KindTask, "a"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fault.matches(tt.op, tt.ref))
		})
	}
}

func TestFaultTimes(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Inject(Fault{Op: remote.OpCreate, Status: http.StatusServiceUnavailable, Times: 2})

	assert.Equal(t, http.StatusServiceUnavailable, post(t, ts.URL+"/api/v1/tasks", `{"id":"local-1"}`).StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, post(t, ts.URL+"/api/v1/tasks", `{"id":"local-1"}`).StatusCode)
	assert.Equal(t, http.StatusCreated, post(t, ts.URL+"/api/v1/tasks", `{"id":"local-1"}`).StatusCode)
}

func TestClearFaults(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Inject(Fault{Status: http.StatusInternalServerError})
	assert.Equal(t, http.StatusInternalServerError, post(t, ts.URL+"/api/v1/tasks", `{"id":"local-1"}`).StatusCode)

	srv.ClearFaults()
	assert.Equal(t, http.StatusCreated, post(t, ts.URL+"/api/v1/tasks", `{"id":"local-1"}`).StatusCode)
}

func TestMaxInflight(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Inject(Fault{Delay: 200 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodDelete, ts.URL+"/api/v1/tasks/t1", nil)
			resp, err := http.DefaultClient.Do(req)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.Greater(t, srv.MaxInflight(ir.Ref(ir.KindTask, "t1")), 1)
	assert.Equal(t, 0, srv.MaxInflight(ir.Ref(ir.KindTask, "t2")))
}

func TestSeedAllowsUpdate(t *testing.T) {
	srv, ts := newTestServer(t)
	ref := ir.Ref(ir.KindProject, "P1")

	put := func() int {
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/projects/P1", strings.NewReader(`{"title":"Roof"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, put())

	srv.Seed(ref, map[string]any{"title": "Old"})
	assert.Equal(t, http.StatusOK, put())

	got, ok := srv.Entity(ref)
	require.True(t, ok)
	assert.Equal(t, "Roof", got["title"])
	assert.Equal(t, "P1", got["id"])
}
