package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"forge-router/internal/cache"
	"forge-router/internal/fleet"
	"forge-router/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, pendingCap int) (*Server, *fleet.Fleet) {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.New(cache.Config{
		CacheDir:      filepath.Join(dir, "cache"),
		RootDir:       filepath.Join(dir, "root"),
		RecordPath:    filepath.Join(dir, "record.json"),
		MaxCacheBytes: 1_000_000_000,
	}, testLogger())
	require.NoError(t, err)

	f := fleet.New(testLogger())
	record := workflow.NewRecord(50, pendingCap)
	dispatcher := workflow.NewDispatcher(record, f, c, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go dispatcher.Run(ctx)

	return New(record, f, c, dispatcher, "user", "pass", testLogger()), f
}

func authed(req *http.Request) *http.Request {
	req.SetBasicAuth("user", "pass")
	return req
}

// newFakeBackend stands up a minimal backend that immediately reports one
// image of output for any prompt it receives.
func newFakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prompt_id":"p1"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// SD1.5 with no loras/controlnets assigns node ids 1..7 in a fixed
		// order (graph_build.go); node 7 is the SaveImage output node.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"execution_start","data":{"prompt_id":"p1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"prompt_id":"p1","node":"7"}}`))
		conn.WriteMessage(websocket.BinaryMessage, append(make([]byte, 8), []byte("image-bytes")...))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"execution_success","data":{"prompt_id":"p1"}}`))
	})
	return httptest.NewServer(mux)
}

// S3 — admission at capacity: with zero nodes registered, the first
// pendingCap workflows admit and the next is rejected with 429.
func TestServer_WorkflowAdmissionRejectsAtPendingCapacity(t *testing.T) {
	s, _ := newTestServer(t, 2)

	sd15 := []byte(`{"type":"sd15","prompt":"a cat","steps":1,"cfg_scale":1,"width":64,"height":64,"seed":1}`)

	for i := 0; i < 2; i++ {
		req := authed(httptest.NewRequest(http.MethodPost, "/workflow", bytes.NewReader(sd15)))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "admission %d should succeed", i)
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/workflow", bytes.NewReader(sd15)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_HealthCheckRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/health_check", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `"ok"`, rec.Body.String())
}

func TestServer_AdminRoutesRejectMissingAuth(t *testing.T) {
	s, _ := newTestServer(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/cluster/nodes", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// S6 — preview visibility policy: a Done result's artifacts are visible on
// the authenticated workflow endpoint and stripped on the unauthenticated
// preview endpoint.
func TestServer_PreviewStripsDoneArtifacts(t *testing.T) {
	backend := newFakeBackend(t)
	defer backend.Close()

	s, f := newTestServer(t, 5)
	f.Add(backend.URL)

	sd15 := []byte(`{"type":"sd15","prompt":"a cat","steps":1,"cfg_scale":1,"width":64,"height":64,"seed":1}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/workflow", bytes.NewReader(sd15)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created createWorkflowResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	require.Eventually(t, func() bool {
		wfReq := authed(httptest.NewRequest(http.MethodGet, "/workflow/"+created.ID, nil))
		wfRec := httptest.NewRecorder()
		s.Handler().ServeHTTP(wfRec, wfReq)
		var wfResult workflow.Result
		require.NoError(t, json.NewDecoder(wfRec.Body).Decode(&wfResult))
		return wfResult.Status == workflow.ResultDone
	}, 2*time.Second, 10*time.Millisecond)

	wfReq := authed(httptest.NewRequest(http.MethodGet, "/workflow/"+created.ID, nil))
	wfRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(wfRec, wfReq)
	var wfResult workflow.Result
	require.NoError(t, json.NewDecoder(wfRec.Body).Decode(&wfResult))
	require.Equal(t, workflow.ResultDone, wfResult.Status)
	require.Len(t, wfResult.Data, 1)

	previewReq := httptest.NewRequest(http.MethodGet, "/preview/"+created.ID, nil)
	previewRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(previewRec, previewReq)
	var previewResult workflow.Result
	require.NoError(t, json.NewDecoder(previewRec.Body).Decode(&previewResult))
	require.Equal(t, workflow.ResultDone, previewResult.Status)
	require.Empty(t, previewResult.Data)
}
