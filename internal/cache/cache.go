// Package cache provides the fixed-capacity LRU of decoded index entries that
// accelerates repeated random-access reads on a channel.
//
// The cache is a preallocated arena of entry slots threaded onto an intrusive
// doubly-linked list, with a hash map from record index to slot position.
// Lookups move the hit slot to the most-recently-used end; inserts repurpose
// the least-recently-used slot. After construction the cache never allocates:
// slot storage is reused for the lifetime of the channel.
//
// The cache is guarded by the owning channel's lock and is never touched
// concurrently.
package cache

import (
	"github.com/sonarlab/hydrodb/internal/segment"
)

// none marks the absence of a neighbor in the intrusive list.
const none = -1

// freeKey marks a slot that holds no entry. Record indices are never
// negative, so the sentinel cannot collide with a real key.
const freeKey int32 = -1

// slot is one arena cell: a cached index entry plus its list links.
type slot struct {
	prev, next int
	key        int32
	seg        *segment.Segment
	entry      segment.Entry
}

// Cache is a fixed-capacity LRU mapping record index to decoded index entry.
type Cache struct {
	slots  []slot
	lookup map[int32]int
	head   int // Most recently used slot.
	tail   int // Least recently used slot; the next eviction victim.
}

// New preallocates a cache with the given capacity. Capacity must be at
// least two so the list always has distinct ends.
func New(capacity int) *Cache {
	c := &Cache{
		slots:  make([]slot, capacity),
		lookup: make(map[int32]int, capacity),
		head:   0,
		tail:   capacity - 1,
	}

	for i := range c.slots {
		c.slots[i].key = freeKey
		c.slots[i].prev = i - 1
		c.slots[i].next = i + 1
	}
	c.slots[0].prev = none
	c.slots[capacity-1].next = none

	return c
}

// Lookup returns the cached entry for the record index, if present, and moves
// it to the most-recently-used end.
func (c *Cache) Lookup(index int32) (*segment.Segment, segment.Entry, bool) {
	pos, ok := c.lookup[index]
	if !ok {
		return nil, segment.Entry{}, false
	}

	c.moveToFront(pos)
	return c.slots[pos].seg, c.slots[pos].entry, true
}

// Insert stores an entry for the record index and moves it to the most-
// recently-used end. An index that is already cached is updated in its own
// slot; otherwise the least-recently-used slot is evicted and its storage is
// repurposed in place.
func (c *Cache) Insert(index int32, seg *segment.Segment, entry segment.Entry) {
	pos, ok := c.lookup[index]
	if !ok {
		pos = c.tail
		victim := &c.slots[pos]
		if victim.key != freeKey {
			delete(c.lookup, victim.key)
		}
		c.lookup[index] = pos
	}

	s := &c.slots[pos]
	s.key = index
	s.seg = seg
	s.entry = entry
	c.moveToFront(pos)
}

// InvalidateSegment drops every cached entry that belongs to the evicted
// segment. Freed slots are pushed to the least-recently-used end so they are
// reused before live entries, leaving hot entries from other segments intact.
func (c *Cache) InvalidateSegment(seg *segment.Segment) {
	for i := range c.slots {
		if c.slots[i].seg != seg || c.slots[i].key == freeKey {
			continue
		}
		delete(c.lookup, c.slots[i].key)
		c.slots[i].key = freeKey
		c.slots[i].seg = nil
		c.slots[i].entry = segment.Entry{}
		c.moveToBack(i)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return len(c.lookup)
}

// Capacity returns the fixed slot count.
func (c *Cache) Capacity() int {
	return len(c.slots)
}

// moveToFront unlinks the slot and relinks it as the list head.
func (c *Cache) moveToFront(pos int) {
	if c.head == pos {
		return
	}

	c.unlink(pos)

	c.slots[pos].prev = none
	c.slots[pos].next = c.head
	c.slots[c.head].prev = pos
	c.head = pos
}

// moveToBack unlinks the slot and relinks it as the list tail.
func (c *Cache) moveToBack(pos int) {
	if c.tail == pos {
		return
	}

	c.unlink(pos)

	c.slots[pos].next = none
	c.slots[pos].prev = c.tail
	c.slots[c.tail].next = pos
	c.tail = pos
}

// unlink detaches the slot from the list, fixing up its neighbors and the
// list ends.
func (c *Cache) unlink(pos int) {
	s := &c.slots[pos]

	if s.prev != none {
		c.slots[s.prev].next = s.next
	} else {
		c.head = s.next
	}

	if s.next != none {
		c.slots[s.next].prev = s.prev
	} else {
		c.tail = s.prev
	}
}
