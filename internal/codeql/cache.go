// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codeql

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tombee/codeql-mcp/internal/log"
)

// DatabaseInfo describes a CodeQL database.
type DatabaseInfo struct {
	Path        string         `json:"path"`
	Language    string         `json:"language"`
	LinesOfCode *int           `json:"lines_of_code,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

type cacheKey struct {
	binary string
	path   string
}

func (k cacheKey) String() string {
	return k.binary + "\x00" + k.path
}

// CacheConfig configures an InfoCache.
type CacheConfig struct {
	Size     int
	TTL      time.Duration
	Watch    bool
	Debounce time.Duration
	Logger   *slog.Logger
}

// InfoCache memoizes database info by (binary, resolved path). Entries
// expire after TTL, the least recently used entry is dropped beyond Size,
// and concurrent misses for one key share a single load.
type InfoCache struct {
	lru     *expirable.LRU[cacheKey, *DatabaseInfo]
	group   singleflight.Group
	watcher *dirWatcher
	logger  *slog.Logger
}

// NewInfoCache creates a cache. With Watch set, a change inside a cached
// database directory evicts its entry.
func NewInfoCache(cfg CacheConfig) *InfoCache {
	if cfg.Size <= 0 {
		cfg.Size = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}

	c := &InfoCache{logger: log.WithComponent(cfg.Logger, "dbinfo-cache")}

	if cfg.Watch {
		w, err := newDirWatcher(cfg.Debounce, c.logger, c.Invalidate)
		if err != nil {
			c.logger.Warn("database change watching disabled", log.Error(err))
		} else {
			c.watcher = w
		}
	}

	c.lru = expirable.NewLRU[cacheKey, *DatabaseInfo](cfg.Size, c.onEvict, cfg.TTL)
	return c
}

// onEvict runs with the LRU lock held and must not call back into it.
func (c *InfoCache) onEvict(key cacheKey, _ *DatabaseInfo) {
	if c.watcher != nil {
		c.watcher.Unwatch(key.path)
	}
}

// Get returns the cached info for (binary, path), calling load at most
// once across concurrent callers on a miss. Failed loads are not cached.
// A caller whose ctx ends stops waiting; the shared load carries on for
// the others.
func (c *InfoCache) Get(ctx context.Context, binary, path string, load func() (*DatabaseInfo, error)) (*DatabaseInfo, error) {
	key := cacheKey{binary: binary, path: path}
	if info, ok := c.lru.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return info, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key.String(), func() (any, error) {
		if info, ok := c.lru.Get(key); ok {
			return info, nil
		}
		info, err := load()
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, info)
		if c.watcher != nil {
			c.watcher.Watch(path)
		}
		return info, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DatabaseInfo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops every entry for path.
func (c *InfoCache) Invalidate(path string) {
	n := 0
	for _, k := range c.lru.Keys() {
		if k.path == path {
			c.lru.Remove(k)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("database info invalidated", log.DatabaseKey, path)
	}
}

// Clear drops every entry and returns how many there were.
func (c *InfoCache) Clear() int {
	n := c.lru.Len()
	c.lru.Purge()
	return n
}

// Len returns the number of live entries.
func (c *InfoCache) Len() int {
	return c.lru.Len()
}

// Close stops the directory watcher.
func (c *InfoCache) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}
