package recorder

import "sync"

// Chunks is the ordered list of encoded blobs produced by one recording.
type Chunks struct {
	mu    sync.Mutex
	parts [][]byte
}

// Append stores a copy of b. Zero-length chunks are dropped.
func (c *Chunks) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	part := make([]byte, len(b))
	copy(part, b)

	c.mu.Lock()
	c.parts = append(c.parts, part)
	c.mu.Unlock()
}

// Len returns the number of stored chunks.
func (c *Chunks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parts)
}

// Size returns the total number of stored bytes.
func (c *Chunks) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.parts {
		n += len(p)
	}
	return n
}

// Merge concatenates all chunks in order.
func (c *Chunks) Merge() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, p := range c.parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range c.parts {
		out = append(out, p...)
	}
	return out
}

// Reset discards all chunks.
func (c *Chunks) Reset() {
	c.mu.Lock()
	c.parts = nil
	c.mu.Unlock()
}
