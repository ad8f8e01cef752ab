package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Index is the persisted shape of the cache's bookkeeping: the set of
// tracked downloads, the canonical-URL-to-file_id mapping, and the
// consumer (symlink) fan-out per file.
//
// Field names match the record's on-disk encoding exactly:
// downloads, url_mapping, symlinks.
type Index struct {
	Downloads map[string]*Task    `json:"downloads"`
	URLIndex  map[string]string   `json:"url_mapping"`
	Consumers map[string][]string `json:"symlinks"`
}

func newIndex() Index {
	return Index{
		Downloads: make(map[string]*Task),
		URLIndex:  make(map[string]string),
		Consumers: make(map[string][]string),
	}
}

// loadIndex reads the index from path. A missing or corrupt file yields an
// empty index rather than an error: the cache directory remains as disk
// evidence and is absorbed by future requests or by sweep.
func loadIndex(path string, logger *slog.Logger) Index {
	data, err := os.ReadFile(path)
	if err != nil {
		return newIndex()
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		logger.Warn("corrupt cache record, starting empty", "path", path, "error", err)
		return newIndex()
	}
	if idx.Downloads == nil {
		idx.Downloads = make(map[string]*Task)
	}
	if idx.URLIndex == nil {
		idx.URLIndex = make(map[string]string)
	}
	if idx.Consumers == nil {
		idx.Consumers = make(map[string][]string)
	}
	return idx
}

// persist writes the whole index to path. The write is the commit of the
// transaction; a failure here is logged by the caller and never rolls back
// the in-memory mutation.
func persist(path string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache index: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	return nil
}

func consumerSetHas(set []string, relpath string) bool {
	for _, p := range set {
		if p == relpath {
			return true
		}
	}
	return false
}

func consumerSetAdd(set []string, relpath string) []string {
	if consumerSetHas(set, relpath) {
		return set
	}
	return append(set, relpath)
}
