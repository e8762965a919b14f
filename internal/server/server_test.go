package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ln2t/hpcjobs/internal/server/handlers"
	"github.com/ln2t/hpcjobs/internal/server/middleware"
	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/output"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body middleware.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServer_Handler(t *testing.T) {
	srv := New("127.0.0.1", 8080)
	handler := srv.Handler()
	assert.NotNil(t, handler)
	assert.Equal(t, "127.0.0.1:8080", srv.Addr())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	// POST to a GET-only endpoint should return 405
	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body middleware.ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)

	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	// Initialize health manager for health endpoint tests
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0, WithJobs(newStore(t), slurm.DefaultMarkers()))

	endpoints := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/health/startup", http.StatusOK},
		{"GET", "/version", http.StatusOK},
		{"GET", "/jobs", http.StatusOK},
		{"GET", "/jobs/55821", http.StatusOK},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, ep.want, rec.Code, "endpoint %s %s should return %d", ep.method, ep.path, ep.want)
		})
	}
}

func TestServer_JobsDisabledWithoutStore(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Version(t *testing.T) {
	srv := New("127.0.0.1", 0, WithVersion(handlers.VersionInfo{Name: "hpcjobs", Version: "1.2.0", Commit: "abc123"}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info handlers.VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.2.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
}

func TestServer_Jobs(t *testing.T) {
	srv := New("127.0.0.1", 0, WithJobs(newStore(t), slurm.DefaultMarkers()))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/jobs/55821")
	require.Equal(t, http.StatusOK, rec.Code)
	var job output.JobRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, "Error", job.Status)
	assert.Equal(t, "freesurfer", job.Tool)

	rec = get("/jobs?tool=fmriprep")
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.JobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "100", list.Jobs[0].JobID)
	assert.Equal(t, "Running", list.Jobs[0].Status)

	rec = get("/jobs?dataset=ds*")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 2, list.Count)

	errorCases := []struct {
		path string
		want int
		code string
	}{
		{"/jobs/999", http.StatusNotFound, "NOT_FOUND"},
		{"/jobs/abc", http.StatusBadRequest, "BAD_REQUEST"},
		{"/jobs?tool=%5B", http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range errorCases {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(tt.path)
			assert.Equal(t, tt.want, rec.Code)
			var body middleware.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.Error.RequestID)
		})
	}
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New("127.0.0.1", 0, WithTimeouts(Timeouts{Read: time.Second, Write: time.Second, Idle: time.Second, Shutdown: time.Second}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/version")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store := jobstore.New(filepath.Join(t.TempDir(), jobstore.FileName), nil)
	exit := 9
	jobs := []jobstore.JobInfo{
		{
			JobID: "55821", Tool: "freesurfer", Dataset: "ds001", Participant: "01",
			SubmitTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			State:      slurm.StateFailed, ExitCode: &exit, Reason: "OUT_OF_MEMORY",
		},
		{
			JobID: "100", Tool: "fmriprep", Dataset: "ds002", Participant: "02",
			SubmitTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			State:      slurm.StateRunning,
		},
	}
	for _, j := range jobs {
		require.NoError(t, store.Put(j))
	}
	return store
}
