package img

// The read cache keeps the most recent 32 cache-aligned chunks of 64 KiB.
// Entries are immutable once inserted; eviction is least-recently-used.

const (
	cacheChunkSize = 64 * 1024
	cacheEntries   = 32
)

type cacheEntry struct {
	base int64
	data []byte
	prev *cacheEntry
	next *cacheEntry
}

type readCache struct {
	byBase map[int64]*cacheEntry
	head   *cacheEntry // most recently used
	tail   *cacheEntry
}

func newReadCache() *readCache {
	return &readCache{byBase: make(map[int64]*cacheEntry, cacheEntries)}
}

func (c *readCache) get(base int64) ([]byte, bool) {
	e, ok := c.byBase[base]
	if !ok {
		return nil, false
	}
	c.touch(e)
	return e.data, true
}

func (c *readCache) put(base int64, data []byte) {
	if e, ok := c.byBase[base]; ok {
		e.data = data
		c.touch(e)
		return
	}
	if len(c.byBase) >= cacheEntries {
		c.evict()
	}
	e := &cacheEntry{base: base, data: data}
	c.byBase[base] = e
	c.pushFront(e)
}

func (c *readCache) touch(e *cacheEntry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *readCache) evict() {
	if c.tail == nil {
		return
	}
	e := c.tail
	c.unlink(e)
	delete(c.byBase, e.base)
}

func (c *readCache) pushFront(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *readCache) unlink(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
