package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"
)

// Cache stores embedding vectors keyed by Key
type Cache interface {
	Get(key string) ([]float32, bool)
	Set(key string, vec []float32, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a cache key from the embedder identity and input text.
// Vectors from different embedders never share a key.
func Key(embedder, text string) string {
	h := sha256.New()
	h.Write([]byte(embedder))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return "disasterops:emb:v1:" + hex.EncodeToString(h.Sum(nil))
}

// EncodeVector packs v as little-endian float32s
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector. Trailing partial words are ignored.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
