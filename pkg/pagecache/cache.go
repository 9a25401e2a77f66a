// Package pagecache maps page numbers to page images, consulting a WAL
// overlay before falling back to the base database file. It implements
// spec.md's page cache: the overlay never evicts, and a page's image at
// any point is "the newest applied WAL frame for that page, or the base
// image if none has been applied."
package pagecache

import (
	"fmt"
	"os"
	"sync"
)

// BaseReader is the minimum a base database reader must support: random
// access reads and a known size. Both the mmap-backed reader
// (mmap_unix.go) and the plain *os.File fallback satisfy it.
type BaseReader interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// fileReader is a BaseReader backed by ordinary file I/O, used by OpenFile
// when mapping the file fails. It is not build-tagged: the mapping reader
// in mmap_unix.go is the only implementation of openMmapReader, so the
// package builds on unix platforms only.
type fileReader struct {
	f    *os.File
	size int64
}

func (r *fileReader) ReadAt(p []byte, off int64) (int, error) { return r.f.ReadAt(p, off) }
func (r *fileReader) Size() int64                              { return r.size }
func (r *fileReader) Close() error                             { return r.f.Close() }

// OpenFile opens path as a BaseReader, preferring a read-only mmap and
// falling back to ordinary file I/O if mapping fails (e.g. a zero-length
// file, or a filesystem that disallows mmap). The page size is supplied
// later to New, since it comes from the database header, which the caller
// decodes on its own.
func OpenFile(path string) (BaseReader, error) {
	if r, err := openMmapReader(path); err == nil {
		return r, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileReader{f: f, size: st.Size()}, nil
}

// Cache is a page cache with a WAL overlay. A zero Cache is not usable;
// construct one with New.
type Cache struct {
	mu       sync.RWMutex
	base     BaseReader
	pageSize int
	overlay  map[uint32][]byte
}

// New constructs a Cache over base, whose pages are pageSize bytes each.
func New(base BaseReader, pageSize int) *Cache {
	return &Cache{
		base:     base,
		pageSize: pageSize,
		overlay:  make(map[uint32][]byte),
	}
}

// ApplyFrame upserts page's image into the overlay, overriding whatever
// was there (base or a previous frame). Page numbers are 1-based, as in
// SQLite. The image is copied so the caller's buffer can be reused.
func (c *Cache) ApplyFrame(pageNo uint32, image []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(image))
	copy(buf, image)
	c.overlay[pageNo] = buf
}

// Get returns the current image of page pageNo: the overlay's version if
// one has been applied, otherwise the base reader's. Page numbers are
// 1-based; page 1 includes the 100-byte database header as its first 100
// bytes, same as on disk.
func (c *Cache) Get(pageNo uint32) ([]byte, error) {
	if pageNo == 0 {
		return nil, fmt.Errorf("pagecache: page 0 does not exist")
	}

	c.mu.RLock()
	overlaid, ok := c.overlay[pageNo]
	c.mu.RUnlock()
	if ok {
		out := make([]byte, len(overlaid))
		copy(out, overlaid)
		return out, nil
	}

	offset := int64(pageNo-1) * int64(c.pageSize)
	buf := make([]byte, c.pageSize)
	if _, err := c.base.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("pagecache: reading page %d: %w", pageNo, err)
	}
	return buf, nil
}

// PageSize returns the configured page size.
func (c *Cache) PageSize() int {
	return c.pageSize
}

// BasePageCount returns how many whole pages exist in the base file,
// independent of any WAL overlay or a commit's declared db_size_pages.
func (c *Cache) BasePageCount() uint32 {
	return uint32(c.base.Size() / int64(c.pageSize))
}

// Close releases the underlying base reader.
func (c *Cache) Close() error {
	return c.base.Close()
}
