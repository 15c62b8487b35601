package resource

import (
	"github.com/ricochet1k/officemesh/internal/digest"
	"github.com/ricochet1k/officemesh/internal/vfs"
)

// Cache keeps fetched resources keyed by the digest of their URL so later
// sessions can skip the network.
type Cache struct {
	store vfs.Store
}

func NewCache(store vfs.Store) *Cache {
	return &Cache{store: store}
}

// NewDirCache opens a cache rooted at dir on the host filesystem.
func NewDirCache(dir string) (*Cache, error) {
	store, err := vfs.NewDirStore(dir)
	if err != nil {
		return nil, err
	}
	return NewCache(store), nil
}

func cacheKey(location string) string {
	return "/" + digest.Resource(location).String()
}

// Get is safe on a nil cache.
func (c *Cache) Get(location string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.store.ReadFile(cacheKey(location))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put is a no-op on a nil cache.
func (c *Cache) Put(location string, data []byte) error {
	if c == nil {
		return nil
	}
	return c.store.WriteFile(cacheKey(location), data)
}
