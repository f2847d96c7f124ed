package cache

import "time"

// LayeredCache checks memory first, then disk, promoting disk hits
type LayeredCache struct {
	memory Cache
	disk   Cache
}

// NewLayeredCache creates a memory cache backed by disk. An empty diskDir
// yields a memory-only cache.
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	c := &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
	}
	if diskDir != "" {
		c.disk = NewDiskCache(diskDir, diskTTL)
	}
	return c
}

// Get retrieves a vector from the first layer that holds it
func (c *LayeredCache) Get(key string) ([]float32, bool) {
	if vec, found := c.memory.Get(key); found {
		return vec, true
	}
	if c.disk == nil {
		return nil, false
	}
	if vec, found := c.disk.Get(key); found {
		_ = c.memory.Set(key, vec, 0)
		return vec, true
	}
	return nil, false
}

// Set stores vec in every layer
func (c *LayeredCache) Set(key string, vec []float32, ttl time.Duration) error {
	if err := c.memory.Set(key, vec, ttl); err != nil {
		return err
	}
	if c.disk != nil {
		return c.disk.Set(key, vec, ttl)
	}
	return nil
}

// Delete removes a value from every layer
func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	if c.disk != nil {
		return c.disk.Delete(key)
	}
	return nil
}

// Clear empties every layer
func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	if c.disk != nil {
		return c.disk.Clear()
	}
	return nil
}
