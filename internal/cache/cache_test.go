package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_DistinguishesModels(t *testing.T) {
	a := Key("openai/text-embedding-3-small", "flood")
	b := Key("openai/text-embedding-3-large", "flood")
	c := Key("openai/text-embedding-3-small", "flood")

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3e-7}
	assert.Equal(t, vec, DecodeVector(EncodeVector(vec)))
}

func TestMemoryCache_ReturnsCopy(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	vec := []float32{1, 2, 3}
	require.NoError(t, c.Set("k", vec, 0))

	vec[0] = 99
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, float32(1), got[0])

	got[1] = 42
	again, _ := c.Get("k")
	assert.Equal(t, float32(2), again[1])
}

func TestDiskCache_RoundTripAndExpiry(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)

	require.NoError(t, c.Set("k", []float32{0.25, 0.5}, 0))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, 0.5}, got)

	require.NoError(t, c.Set("old", []float32{1}, -time.Second))
	_, ok = c.Get("old")
	assert.False(t, ok)
	_, err := os.Stat(filepath.Join(dir, "old.vec"))
	assert.True(t, os.IsNotExist(err), "expired entry should be removed")

	assert.NoError(t, c.Delete("missing"))
}

func TestDiskCache_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.vec"), []byte{1, 2, 3}, 0644))

	c := NewDiskCache(dir, time.Hour)
	_, ok := c.Get("bad")
	assert.False(t, ok)
}

func TestLayeredCache_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	disk := NewDiskCache(dir, time.Hour)
	require.NoError(t, disk.Set("k", []float32{7}, 0))

	c := NewLayeredCache(time.Minute, dir, time.Hour)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{7}, got)

	mem := c.memory.(*MemoryCache)
	assert.Equal(t, 1, mem.Len())
}

func TestLayeredCache_MemoryOnly(t *testing.T) {
	c := NewLayeredCache(time.Minute, "", 0)
	require.NoError(t, c.Set("k", []float32{1}, 0))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{1}, got)

	require.NoError(t, c.Delete("k"))
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.NoError(t, c.Clear())
}
