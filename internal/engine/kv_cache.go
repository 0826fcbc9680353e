package engine

import "fmt"

// kvCache is a contiguous per-layer key/value cache. Entries are written
// once per position and never evicted; Reset on the engine clears it.
type kvCache struct {
	layers int
	seqLen int
	kvDim  int

	k      [][]float32
	v      [][]float32
	length int
}

func newKVCache(layers, seqLen, kvDim int) *kvCache {
	c := &kvCache{
		layers: layers,
		seqLen: seqLen,
		kvDim:  kvDim,
		k:      make([][]float32, layers),
		v:      make([][]float32, layers),
	}
	for l := 0; l < layers; l++ {
		c.k[l] = make([]float32, seqLen*kvDim)
		c.v[l] = make([]float32, seqLen*kvDim)
	}
	return c
}

func (c *kvCache) put(layer, pos int, k, v []float32) error {
	if pos < 0 || pos >= c.seqLen {
		return fmt.Errorf("kv cache: position %d out of range [0, %d)", pos, c.seqLen)
	}
	copy(c.k[layer][pos*c.kvDim:(pos+1)*c.kvDim], k)
	copy(c.v[layer][pos*c.kvDim:(pos+1)*c.kvDim], v)
	return nil
}

// at returns the cached key and value vectors for one layer and position.
func (c *kvCache) at(layer, pos int) (k, v []float32) {
	return c.k[layer][pos*c.kvDim : (pos+1)*c.kvDim],
		c.v[layer][pos*c.kvDim : (pos+1)*c.kvDim]
}

func (c *kvCache) reset() {
	c.length = 0
}

// sizeBytes reports the cache footprint, counting both key and value slabs.
func (c *kvCache) sizeBytes() int {
	return c.layers * c.seqLen * c.kvDim * 2 * 4
}
