package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DiskCache persists vectors across runs, one file per key.
// File layout: 8-byte little-endian expiry (unix nanos) followed by the encoded vector.
type DiskCache struct {
	dir string
	ttl time.Duration
}

// NewDiskCache creates a new disk cache
func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	return &DiskCache{
		dir: dir,
		ttl: ttl,
	}
}

// Get reads a vector, removing it if expired or corrupt
func (c *DiskCache) Get(key string) ([]float32, bool) {
	path := c.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if len(data) < 8 || (len(data)-8)%4 != 0 {
		_ = os.Remove(path)
		return nil, false
	}

	expires := time.Unix(0, int64(binary.LittleEndian.Uint64(data[:8])))
	if time.Now().After(expires) {
		_ = os.Remove(path)
		return nil, false
	}

	return DecodeVector(data[8:]), true
}

// Set writes vec atomically via a temp file and rename
func (c *DiskCache) Set(key string, vec []float32, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	buf := make([]byte, 8, 8+len(vec)*4)
	binary.LittleEndian.PutUint64(buf, uint64(time.Now().Add(ttl).UnixNano()))
	buf = append(buf, EncodeVector(vec)...)

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "vec-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Delete removes a value from the disk cache. Missing keys are not an error.
func (c *DiskCache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Clear removes all cached files
func (c *DiskCache) Clear() error {
	return os.RemoveAll(c.dir)
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.dir, key+".vec")
}
