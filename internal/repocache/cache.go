// Package repocache maps a repository URL and branch onto a previously
// materialized working copy.
package repocache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
)

// Marker is the version control directory which must exist for an entry to
// stay valid.
const Marker = ".git"

type Cache struct {
	mx      sync.Mutex
	entries map[string]string
}

func New() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Key returns the cache key of a repository, url:branch.
func Key(url, branch string) string {
	return model.Repository{URL: url, Branch: branch}.CacheKey()
}

// Lookup returns the stored path when its marker still exists. An entry
// whose marker is gone is dropped.
func (c *Cache) Lookup(url, branch string) (string, bool) {
	key := Key(url, branch)
	c.mx.Lock()
	path, ok := c.entries[key]
	c.mx.Unlock()
	if !ok {
		return "", false
	}
	if HasMarker(path) {
		return path, true
	}
	c.mx.Lock()
	if c.entries[key] == path {
		delete(c.entries, key)
	}
	c.mx.Unlock()
	return "", false
}

// Store records path for the repository. A later Store for the same key
// replaces the entry.
func (c *Cache) Store(url, branch, path string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.entries[Key(url, branch)] = path
}

func (c *Cache) Len() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.entries)
}

// Entries returns a copy of all entries, valid or not.
func (c *Cache) Entries() map[string]string {
	c.mx.Lock()
	defer c.mx.Unlock()
	ret := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		ret[k] = v
	}
	return ret
}

// HasMarker reports whether dir holds a version control marker.
func HasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, Marker))
	return err == nil
}
