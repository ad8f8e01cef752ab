package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, maxBytes int64) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		CacheDir:      filepath.Join(dir, "cache"),
		RootDir:       filepath.Join(dir, "root"),
		RecordPath:    filepath.Join(dir, "record.json"),
		MaxCacheBytes: maxBytes,
	}
	c, err := New(cfg, testLogger())
	require.NoError(t, err)
	return c, dir
}

// S1 — deduplicated concurrent download: two requests for the same
// canonical URL (differing only by query string) must dedupe to one
// fetch and yield two distinct consumer symlinks.
func TestRequest_DeduplicatesConcurrentFetches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("payload-bytes"))
	}))
	defer srv.Close()

	c, _ := newTestCache(t, 1_000_000_000)

	var wg sync.WaitGroup
	handles := make([]Handle, 2)
	relpaths := []string{"models/checkpoints", "models/loras"}
	for i, q := range []string{"t=1", "t=2"} {
		i, q := i, q
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Request(fmt.Sprintf("%s/a.safetensors?%s", srv.URL, q), relpaths[i])
			require.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	require.Equal(t, handles[0].FileID, handles[1].FileID)

	for _, h := range handles {
		if h.Watch != nil {
			status, err := h.Watch.Wait(context.Background())
			require.NoError(t, err)
			require.Equal(t, StatusCompleted, status)
		}
	}

	require.EqualValues(t, 1, atomic.LoadInt32(&hits))

	task, ok := c.Get(handles[0].FileID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, task.Status)

	for _, relpath := range relpaths {
		link := filepath.Join(c.rootDir, relpath, handles[0].FileID)
		target, err := os.Readlink(link)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(c.cacheDir, handles[0].FileID), target)
	}
}

// S2 — eviction with reclaim: inserting files of size 60, 30, 30 against a
// 100-byte budget evicts the oldest (60) and nothing else.
func TestSweep_EvictsOldestUntilWithinBudget(t *testing.T) {
	c, _ := newTestCache(t, 100)

	write := func(name string, size int) {
		require.NoError(t, os.MkdirAll(c.cacheDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(c.cacheDir, name), make([]byte, size), 0644))
		c.mu.Lock()
		c.index.Downloads[name] = &Task{FileID: name, CanonicalURL: "https://x/" + name, Status: StatusCompleted}
		c.index.URLIndex["https://x/"+name] = name
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond) // force distinct mtimes
	}

	write("oldest", 60)
	write("middle", 30)
	write("newest", 30)

	c.sweep()

	_, err := os.Stat(filepath.Join(c.cacheDir, "oldest"))
	require.True(t, os.IsNotExist(err))
	_, ok := c.Get("oldest")
	require.False(t, ok)

	for _, name := range []string{"middle", "newest"} {
		_, err := os.Stat(filepath.Join(c.cacheDir, name))
		require.NoError(t, err)
	}
}

func TestRequest_RetriesAfterFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := newTestCache(t, 1_000_000_000)

	h1, err := c.Request(srv.URL+"/x.bin", "models/checkpoints")
	require.NoError(t, err)
	status, err := h1.Watch.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status)

	h2, err := c.Request(srv.URL+"/x.bin", "models/checkpoints")
	require.NoError(t, err)
	require.NotNil(t, h2.Watch)
	status2, err := h2.Watch.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status2)

	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

// Remove erases the cache file, every registered consumer symlink, and
// the index entries, leaving the file_id fully untracked.
func TestRemove_ErasesFileSymlinksAndIndexEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload-bytes"))
	}))
	defer srv.Close()

	c, _ := newTestCache(t, 1_000_000_000)

	h, err := c.Request(srv.URL+"/m.safetensors", "models/checkpoints")
	require.NoError(t, err)
	status, err := h.Watch.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)

	link := filepath.Join(c.rootDir, "models/checkpoints", h.FileID)
	_, err = os.Lstat(link)
	require.NoError(t, err)

	c.Remove(h.FileID)

	_, ok := c.Get(h.FileID)
	require.False(t, ok)

	_, err = os.Stat(filepath.Join(c.cacheDir, h.FileID))
	require.True(t, os.IsNotExist(err))

	_, err = os.Lstat(link)
	require.True(t, os.IsNotExist(err))

	_, ok = c.index.URLIndex[srv.URL+"/m.safetensors"]
	require.False(t, ok)
}

func TestPersist_RoundTripsIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	c, dir := newTestCache(t, 1_000_000_000)
	h, err := c.Request(srv.URL+"/m.safetensors", "models/checkpoints")
	require.NoError(t, err)
	_, err = h.Watch.Wait(context.Background())
	require.NoError(t, err)

	reloaded, err := New(Config{
		CacheDir:      c.cacheDir,
		RootDir:       c.rootDir,
		RecordPath:    c.recordPath,
		MaxCacheBytes: 1_000_000_000,
	}, testLogger())
	require.NoError(t, err)

	task, ok := reloaded.Get(h.FileID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, task.Status)
	_ = dir
}
