package workflow

import (
	"context"
	"errors"

	"forge-router/internal/cache"
)

// ErrDownloadFailed is the terminal WorkflowResult cause when any asset
// required by a payload fails to fetch.
var ErrDownloadFailed = errors.New("download failed")

// Asset references a resource the translator needs resolved to a cache
// file_id before the graph can be built. Name is used as-is (a backend
// built-in, e.g. a checkpoint already on the node) when URL is empty.
type Asset struct {
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// assetFetcher collects asset resolution requests, firing each immediately
// against the cache and awaiting all of them together, per the
// fire-then-await-all translation contract.
type assetFetcher struct {
	cache   *cache.Cache
	waiters []*cache.Watch
}

func newAssetFetcher(c *cache.Cache) *assetFetcher {
	return &assetFetcher{cache: c}
}

// resolve returns the eventual file name for asset under relpath. If asset
// has no URL, it is already resolved (a backend built-in) and no fetch is
// fired.
func (f *assetFetcher) resolve(asset Asset, relpath string) (string, error) {
	if asset.URL == "" {
		return asset.Name, nil
	}
	h, err := f.cache.Request(asset.URL, relpath)
	if err != nil {
		return "", err
	}
	if !h.Ready && h.Watch != nil {
		f.waiters = append(f.waiters, h.Watch)
	}
	return h.FileID, nil
}

// await blocks until every fired fetch has reached a terminal status,
// returning ErrDownloadFailed if any of them failed.
func (f *assetFetcher) await(ctx context.Context) error {
	failed := false
	for _, w := range f.waiters {
		status, err := w.Wait(ctx)
		if err != nil {
			return err
		}
		if status == cache.StatusFailed {
			failed = true
		}
	}
	if failed {
		return ErrDownloadFailed
	}
	return nil
}
