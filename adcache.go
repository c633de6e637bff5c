package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type adCacheEntry struct {
	Found      bool         `json:"found"`
	Attributes ADAttributes `json:"attributes"`
	FetchedAt  time.Time    `json:"fetched_at"`
}

// adCache keeps directory answers between runs so repeat reports skip the
// per-host lookups. Failed lookups are never stored.
type adCache struct {
	path    string
	entries map[string]adCacheEntry
	dirty   bool
}

func openADCache(path string, clear bool) (*adCache, error) {
	cache := &adCache{path: path, entries: map[string]adCacheEntry{}}
	if clear {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("clear AD cache: %w", err)
		}
		return cache, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cache, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read AD cache: %w", err)
	}
	if err := json.Unmarshal(data, &cache.entries); err != nil {
		return nil, fmt.Errorf("parse AD cache %s: %w", path, err)
	}
	if cache.entries == nil {
		cache.entries = map[string]adCacheEntry{}
	}
	return cache, nil
}

func cacheKey(hostname string) string {
	return strings.ToUpper(strings.TrimSpace(hostname))
}

func (c *adCache) get(hostname string) (adCacheEntry, bool) {
	if c == nil {
		return adCacheEntry{}, false
	}
	entry, ok := c.entries[cacheKey(hostname)]
	return entry, ok
}

func (c *adCache) put(hostname string, entry adCacheEntry) {
	if c == nil {
		return
	}
	c.entries[cacheKey(hostname)] = entry
	c.dirty = true
}

func (c *adCache) save() error {
	if c == nil || !c.dirty {
		return nil
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return err
	}
	c.dirty = false
	return nil
}
