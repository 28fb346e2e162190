package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// embedCache keeps recently computed embeddings keyed by content hash so
// repeated stores and searches of the same text skip the provider call.
// Admission is best-effort; a miss just costs one embedding request.
type embedCache struct {
	c *ristretto.Cache
}

func newEmbedCache(maxEntries int64) (*embedCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &embedCache{c: c}, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (e *embedCache) get(text string) ([]float32, bool) {
	v, ok := e.c.Get(contentHash(text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

func (e *embedCache) put(text string, vec []float32) {
	e.c.Set(contentHash(text), vec, 1)
}
