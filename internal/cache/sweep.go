package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type fileStat struct {
	name    string
	size    int64
	modTime time.Time
}

// sweep enforces the byte-budget eviction policy: it enumerates cache_dir,
// sorts oldest-first by modification time, and removes files from the
// front until the total size is within maxBytes. This is the ascending
// sort / front-eviction equivalent of the source's descending sort plus
// pop(); see DESIGN.md for why the two are operationally identical.
func (c *Cache) sweep() {
	if c.maxBytes <= 0 {
		return
	}

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		c.logger.Warn("sweep: failed to list cache dir", "error", err)
		return
	}

	var files []fileStat
	var total int64
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".download") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileStat{name: e.Name(), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}

	if total <= c.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		path := filepath.Join(c.cacheDir, f.name)
		if err := os.Remove(path); err != nil {
			c.logger.Warn("sweep: failed to delete cache file", "path", path, "error", err)
			continue
		}
		c.logger.Info("sweep: evicted cache file", "file_id", f.name, "size", humanize.Bytes(uint64(f.size)))
		total -= f.size

		c.mu.Lock()
		c.removeLocked(f.name, false)
		c.mu.Unlock()
	}
}
