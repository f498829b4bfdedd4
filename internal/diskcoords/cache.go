// Package diskcoords is a memory-mapped int64-keyed coordinate cache,
// giving O(1) node-coordinate lookups without holding every node in the
// Go heap. Adapted from the teacher's internal/nodeindex/mmap.go, this
// version actually calls github.com/edsrzf/mmap-go instead of the raw
// syscall.Mmap/syscall.Munmap pair the teacher's go.mod committed to but
// never imported.
package diskcoords

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

const (
	// Each entry: lat (int32) + lon (int32) fixed-point, scale 1e7.
	entrySize = 8
)

// Cache is a memory-mapped node-id -> (lat, lon) index. Coordinates are
// stored at offset = nodeID * entrySize, so any node ID up to the
// capacity given at creation resolves in O(1).
type Cache struct {
	file *os.File
	mm   mmap.MMap
	cap  int64
}

// Create makes a new coordinate cache backed by a sparse file at path,
// sized to hold node IDs in [0, capacity).
func Create(path string, capacity int64) (*Cache, error) {
	size := capacity * entrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskcoords: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskcoords: truncate %s: %w", path, err)
	}

	m, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("diskcoords: mmap %s: %w", path, err)
	}

	return &Cache{file: f, mm: m, cap: capacity}, nil
}

// Open memory-maps an existing coordinate cache for reading.
func Open(path string) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("diskcoords: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("diskcoords: stat %s: %w", path, err)
	}

	m, err := mmap.MapRegion(f, int(info.Size()), mmap.RDONLY, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("diskcoords: mmap %s: %w", path, err)
	}

	return &Cache{file: f, mm: m, cap: info.Size() / entrySize}, nil
}

// Put stores a node's coordinates. Out-of-range node IDs are ignored.
func (c *Cache) Put(nodeID int64, lat, lon float64) {
	if nodeID < 0 || nodeID >= c.cap {
		return
	}
	offset := nodeID * entrySize
	latInt := int32(lat * 1e7)
	lonInt := int32(lon * 1e7)
	binary.LittleEndian.PutUint32(c.mm[offset:], uint32(latInt))
	binary.LittleEndian.PutUint32(c.mm[offset+4:], uint32(lonInt))
}

// Get retrieves a node's coordinates. ok is false if the node ID is out
// of range or was never written (the all-zero sentinel).
func (c *Cache) Get(nodeID int64) (lat, lon float64, ok bool) {
	if nodeID < 0 || nodeID >= c.cap {
		return 0, 0, false
	}
	offset := nodeID * entrySize
	latInt := int32(binary.LittleEndian.Uint32(c.mm[offset:]))
	lonInt := int32(binary.LittleEndian.Uint32(c.mm[offset+4:]))
	if latInt == 0 && lonInt == 0 {
		return 0, 0, false
	}
	return float64(latInt) / 1e7, float64(lonInt) / 1e7, true
}

// Flush writes pending changes back to disk.
func (c *Cache) Flush() error {
	return c.mm.Flush()
}

// Close unmaps the cache and closes its backing file.
func (c *Cache) Close() error {
	if err := c.mm.Unmap(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}
