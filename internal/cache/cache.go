package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// Config bundles the cache's on-disk locations and limits.
type Config struct {
	CacheDir               string
	RootDir                string
	RecordPath             string
	MaxCacheBytes          int64
	MaxDownloadBytesPerSec int
}

// Cache is the content-addressed download store. CacheLock (mu) guards both
// the persisted Index and the process-local InFlight table; suspension
// points (network fetches, symlink materialization after a fetch) happen
// outside the lock.
type Cache struct {
	mu sync.Mutex

	index     Index
	inflight  map[string]*Watch
	cacheDir  string
	rootDir   string
	recordPath string
	maxBytes  int64

	logger    *slog.Logger
	client    *http.Client
	bandwidth *bandwidthLimiter
}

// New constructs a Cache, loading any existing record at cfg.RecordPath.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return nil, fmt.Errorf("create root dir: %w", err)
	}

	c := &Cache{
		index:      loadIndex(cfg.RecordPath, logger),
		inflight:   make(map[string]*Watch),
		cacheDir:   cfg.CacheDir,
		rootDir:    cfg.RootDir,
		recordPath: cfg.RecordPath,
		maxBytes:   cfg.MaxCacheBytes,
		logger:     logger,
		client:     &http.Client{},
		bandwidth:  newBandwidthLimiter(cfg.MaxDownloadBytesPerSec),
	}
	return c, nil
}

// ErrInvalidURL is returned when Request is given an unparsable URL.
var ErrInvalidURL = errors.New("invalid url")

// Request implements the five-case dedup contract: it returns a Handle that
// is either Ready (the file exists now) or carries a Watch to await the
// in-flight fetch's terminal status.
func (c *Cache) Request(rawURL, relpath string) (Handle, error) {
	canonical, downloadable, err := splitCanonical(rawURL)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	c.mu.Lock()
	for {
		fileID, ok := c.index.URLIndex[canonical]
		if !ok {
			h := c.createPendingLocked(canonical, downloadable, relpath)
			c.mu.Unlock()
			return h, nil
		}

		task := c.index.Downloads[fileID]
		switch task.Status {
		case StatusCompleted:
			cachePath := filepath.Join(c.cacheDir, fileID)
			info, statErr := os.Stat(cachePath)
			if statErr == nil && info.Mode().IsRegular() {
				c.addConsumerLocked(fileID, relpath)
				if err := c.linkify(fileID, relpath); err != nil {
					c.logger.Warn("failed to materialize symlink", "file_id", fileID, "relpath", relpath, "error", err)
				}
				c.persistLocked()
				c.mu.Unlock()
				return Handle{FileID: fileID, Ready: true}, nil
			}
			// Completed but the cache file vanished: evidence of tampering.
			// Purge the record and restart as if it never existed.
			c.purgeLocked(fileID)
			continue

		case StatusPending:
			c.addConsumerLocked(fileID, relpath)
			c.persistLocked()
			w := c.inflight[fileID]
			c.mu.Unlock()
			return Handle{FileID: fileID, Watch: w}, nil

		case StatusFailed:
			c.purgeLocked(fileID)
			continue
		}
	}
}

// createPendingLocked registers a new DownloadTask and spawns its fetch.
// Caller must hold c.mu.
func (c *Cache) createPendingLocked(canonical, downloadable, relpath string) Handle {
	fileID := newFileID(downloadable)
	task := &Task{
		FileID:          fileID,
		CanonicalURL:    canonical,
		DownloadableURL: downloadable,
		Status:          StatusPending,
	}
	c.index.Downloads[fileID] = task
	c.index.URLIndex[canonical] = fileID
	c.addConsumerLocked(fileID, relpath)

	w := newWatch()
	c.inflight[fileID] = w
	c.persistLocked()

	go c.fetch(fileID, downloadable)

	return Handle{FileID: fileID, Watch: w}
}

func (c *Cache) addConsumerLocked(fileID, relpath string) {
	c.index.Consumers[fileID] = consumerSetAdd(c.index.Consumers[fileID], relpath)
}

func (c *Cache) consumersSnapshotLocked(fileID string) []string {
	set := c.index.Consumers[fileID]
	out := make([]string, len(set))
	copy(out, set)
	return out
}

func (c *Cache) persistLocked() {
	if err := persist(c.recordPath, c.index); err != nil {
		c.logger.Warn("failed to persist cache record", "error", err)
	}
}

// purgeLocked removes the tracked download and its consumer symlinks,
// without touching the cache file itself (the caller has already
// established, or never created, the file). Caller must hold c.mu.
func (c *Cache) purgeLocked(fileID string) {
	c.removeLocked(fileID, false)
}

// removeLocked erases all bookkeeping for fileID, and the cache file too
// when deleteFile is set. Caller must hold c.mu.
func (c *Cache) removeLocked(fileID string, deleteFile bool) {
	for _, relpath := range c.index.Consumers[fileID] {
		link := filepath.Join(c.rootDir, relpath, fileID)
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove symlink", "path", link, "error", err)
		}
	}
	delete(c.index.Consumers, fileID)

	if task, ok := c.index.Downloads[fileID]; ok {
		delete(c.index.URLIndex, task.CanonicalURL)
		delete(c.index.Downloads, fileID)
	}

	if deleteFile {
		path := filepath.Join(c.cacheDir, fileID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove cache file", "path", path, "error", err)
		}
	}

	c.persistLocked()
}

// Remove erases fileID's cache file, every registered symlink, and its
// index entries.
func (c *Cache) Remove(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(fileID, true)
}

// Persist writes the full index to record_path. Exported so the process
// can force one last write during graceful shutdown, beyond the
// after-every-mutation writes already performed internally.
func (c *Cache) Persist() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistLocked()
}

// Get returns the tracked task for fileID, if any.
func (c *Cache) Get(fileID string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.index.Downloads[fileID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// linkify ensures root_dir/relpath/file_id is a symlink to
// cache_dir/file_id, removing a stale or broken link first. Caller must
// hold c.mu when called from the Ready path; it is also safe to call
// unlocked from the post-fetch materialization step since it only touches
// the filesystem.
func (c *Cache) linkify(fileID, relpath string) error {
	dir := filepath.Join(c.rootDir, relpath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create consumer dir: %w", err)
	}

	link := filepath.Join(dir, fileID)
	target := filepath.Join(c.cacheDir, fileID)

	if existing, err := os.Readlink(link); err == nil {
		if existing == target {
			if _, statErr := os.Stat(link); statErr == nil {
				return nil
			}
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove stale symlink: %w", err)
		}
	} else if _, statErr := os.Lstat(link); statErr == nil {
		// Not a symlink but something occupies the path; remove it.
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove occupying file: %w", err)
		}
	}

	return os.Symlink(target, link)
}

// fetch runs outside CacheLock: it downloads the asset, commits the
// terminal status, publishes it to the watch, materializes symlinks for
// every current consumer, drops the InFlight entry, then sweeps.
func (c *Cache) fetch(fileID, downloadURL string) {
	status := StatusCompleted
	if err := c.download(fileID, downloadURL); err != nil {
		c.logger.Warn("download failed", "file_id", fileID, "url", downloadURL, "error", err)
		status = StatusFailed
	}

	c.mu.Lock()
	if task, ok := c.index.Downloads[fileID]; ok {
		task.Status = status
	}
	c.persistLocked()
	w := c.inflight[fileID]
	consumers := c.consumersSnapshotLocked(fileID)
	c.mu.Unlock()

	if w != nil {
		w.publish(status)
	}

	if status == StatusCompleted {
		for _, relpath := range consumers {
			if err := c.linkify(fileID, relpath); err != nil {
				c.logger.Warn("failed to materialize symlink", "file_id", fileID, "relpath", relpath, "error", err)
			}
		}
	}

	c.mu.Lock()
	delete(c.inflight, fileID)
	c.mu.Unlock()

	c.sweep()
}

// download streams the URL's body to cache_dir/<file_id>.download and
// atomically renames it into place on success. No explicit timeout: per
// spec.md §5, download tasks run until the HTTP body ends naturally —
// assets can legitimately be multi-GB and a slow-but-healthy transfer must
// not be cancelled out from under it.
func (c *Cache) download(fileID, downloadURL string) error {
	ctx := context.Background()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmpPath := filepath.Join(c.cacheDir, fileID+".download")
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := c.copyThrottled(ctx, f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write body: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	finalPath := filepath.Join(c.cacheDir, fileID)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (c *Cache) copyThrottled(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if err := c.bandwidth.waitN(ctx, n); err != nil {
				return err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
