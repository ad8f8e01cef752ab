package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forge-router/internal/fleet"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// S4 — node demotion and recovery: three consecutive failures demote the
// node; a success right after demotion promotes it back to Idle.
func TestProbe_DemotesAfterThreeFailuresThenRecovers(t *testing.T) {
	var status int32 = http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	f := fleet.New(testLogger())
	f.Add(srv.URL)
	p := New(f, time.Second, testLogger())

	ctx := context.Background()
	p.probe(ctx, srv.URL)
	p.probe(ctx, srv.URL)
	require.Equal(t, fleet.Idle, onlyStatus(t, f))

	p.probe(ctx, srv.URL)
	require.Equal(t, fleet.Offline, onlyStatus(t, f))

	atomic.StoreInt32(&status, http.StatusOK)
	p.probe(ctx, srv.URL)
	require.Equal(t, fleet.Idle, onlyStatus(t, f))
}

func TestProbe_SingleBadTickDoesNotDemote(t *testing.T) {
	var status int32 = http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	f := fleet.New(testLogger())
	f.Add(srv.URL)
	p := New(f, time.Second, testLogger())

	ctx := context.Background()
	atomic.StoreInt32(&status, http.StatusInternalServerError)
	p.probe(ctx, srv.URL)
	atomic.StoreInt32(&status, http.StatusOK)
	p.probe(ctx, srv.URL)

	require.Equal(t, fleet.Idle, onlyStatus(t, f))
}

func onlyStatus(t *testing.T, f *fleet.Fleet) fleet.Status {
	t.Helper()
	views := f.Iter()
	require.Len(t, views, 1)
	return views[0].Status
}
