// Package pagecache provides a per-page-locked cache of fixed-size device
// blocks. Every page gets its own sync.Mutex so concurrent callers touching
// different pages never contend, while a caller holding one page's lock
// still sees a consistent view of that page across its Prepare/Commit pair.
package pagecache

import (
	"sync"

	"github.com/bitsfs-go/bitsfs"
)

// FetchFunc loads the contents of the given block into buf, which is
// guaranteed to be exactly one block long.
type FetchFunc func(block int64, buf []byte) error

// FlushFunc writes buf, exactly one block long, to the given block.
type FlushFunc func(block int64, buf []byte) error

type page struct {
	mu     sync.Mutex
	data   []byte
	loaded bool
	dirty  bool
}

// Cache is a page cache over a fixed number of same-sized pages, each
// independently lockable.
type Cache struct {
	pageSize int
	pages    []*page
	fetch    FetchFunc
	flush    FlushFunc
}

// New creates a Cache of totalPages pages of pageSize bytes each. fetch is
// called to populate a page the first time it's touched; flush is called to
// write a dirty page back out.
func New(pageSize int, totalPages int64, fetch FetchFunc, flush FlushFunc) *Cache {
	pages := make([]*page, totalPages)
	for i := range pages {
		pages[i] = &page{}
	}
	return &Cache{pageSize: pageSize, pages: pages, fetch: fetch, flush: flush}
}

func (c *Cache) checkBounds(index int64) error {
	if index < 0 || index >= int64(len(c.pages)) {
		return bitsfs.ErrInvalidArgument.WithMessage(
			"page %d not in range [0, %d)", index, len(c.pages))
	}
	return nil
}

// PrepareChunk returns a mutable view of page index, loading it from the
// backing store first if it hasn't been touched yet, and leaves the page's
// lock held. The caller must call CommitChunk or ReleaseChunk exactly once
// to release it.
func (c *Cache) PrepareChunk(index int64) ([]byte, error) {
	if err := c.checkBounds(index); err != nil {
		return nil, err
	}

	p := c.pages[index]
	p.mu.Lock()

	if !p.loaded {
		p.data = make([]byte, c.pageSize)
		if err := c.fetch(index, p.data); err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.loaded = true
	}
	return p.data, nil
}

// CommitChunk marks page index dirty, flushes it to the backing store
// immediately (this cache has no write-back scheduling of its own -- that's
// the host's job), and releases its lock.
func (c *Cache) CommitChunk(index int64) error {
	if err := c.checkBounds(index); err != nil {
		return err
	}

	p := c.pages[index]
	defer p.mu.Unlock()

	p.dirty = true
	if err := c.flush(index, p.data); err != nil {
		return err
	}
	p.dirty = false
	return nil
}

// ReleaseChunk releases page index's lock without flushing it, for callers
// that only read the page.
func (c *Cache) ReleaseChunk(index int64) {
	if index < 0 || index >= int64(len(c.pages)) {
		return
	}
	c.pages[index].mu.Unlock()
}

// Evict drops a page's cached contents so the next PrepareChunk re-fetches
// it from the backing store. Used when an inode's block map changes
// out-of-band (e.g. TruncateAll) and a page's physical location may no
// longer correspond to what's cached.
func (c *Cache) Evict(index int64) error {
	if err := c.checkBounds(index); err != nil {
		return err
	}
	p := c.pages[index]
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	p.dirty = false
	p.data = nil
	return nil
}

// PageSize returns the fixed size, in bytes, of each page.
func (c *Cache) PageSize() int {
	return c.pageSize
}

// TotalPages returns the number of pages this cache covers.
func (c *Cache) TotalPages() int64 {
	return int64(len(c.pages))
}
