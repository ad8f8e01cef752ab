// Package cache implements the content-addressed download cache: it
// deduplicates concurrent fetches for the same canonical URL, materializes
// per-consumer symlinks, and enforces a byte-budget eviction policy.
package cache

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a DownloadTask.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task records one tracked download. CanonicalURL (query stripped) is the
// dedup identity key; DownloadableURL keeps the original query string so the
// fetch can be reissued against the exact resource.
type Task struct {
	FileID          string `json:"file_id"`
	CanonicalURL    string `json:"canonical_url"`
	DownloadableURL string `json:"downloadable_url"`
	Status          Status `json:"status"`
}

// Watch is a single-producer/multi-consumer status channel: every waiter
// that subscribes before the terminal status is published observes it via
// the closed done channel, Go's native broadcast-to-many idiom.
type Watch struct {
	done   chan struct{}
	result Status
}

func newWatch() *Watch {
	return &Watch{done: make(chan struct{})}
}

func (w *Watch) publish(status Status) {
	w.result = status
	close(w.done)
}

// Wait blocks until the watch's terminal status is published or ctx is
// cancelled.
func (w *Watch) Wait(ctx context.Context) (Status, error) {
	select {
	case <-w.done:
		return w.result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Handle is the result of Request: either the file is Ready immediately, or
// the caller must wait on Watch for the in-flight fetch to terminate.
type Handle struct {
	FileID string
	Ready  bool
	Watch  *Watch
}

// splitCanonical derives the canonical (query-stripped) and downloadable
// (original) forms of a raw URL string.
func splitCanonical(rawURL string) (canonical, downloadable string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	downloadable = u.String()
	u.RawQuery = ""
	u.Fragment = ""
	canonical = u.String()
	return canonical, downloadable, nil
}

// newFileID mints a fresh UUID, preserving the final path segment's
// extension (if any) so extension-sensing backends keep working.
func newFileID(downloadableURL string) string {
	id := uuid.New().String()
	if u, err := url.Parse(downloadableURL); err == nil {
		base := path.Base(u.Path)
		if ext := path.Ext(base); ext != "" && ext != "." && !strings.ContainsAny(ext, "/\\") {
			return id + ext
		}
	}
	return id
}
