// Package hmap implements the keyspace container: an open-chaining hash
// map that rehashes incrementally so no single operation pays for a full
// table resize. Ported from the book's hashtable.cpp (section9) into a
// generic, garbage-collected shape: chain nodes own their payload
// directly instead of living inside it via container_of pointers.
package hmap

import "hash/fnv"

const (
	maxLoadFactor = 8
	resizingWork  = 128
)

// HashBytes is the hash function used for keyspace and zset-member
// lookups throughout the server.
func HashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

type node[T any] struct {
	hash  uint64
	next  *node[T]
	value T
}

type table[T any] struct {
	buckets []*node[T]
	mask    uint64
	size    int
}

func (t *table[T]) init(n int) {
	t.buckets = make([]*node[T], n)
	t.mask = uint64(n - 1)
	t.size = 0
}

func (t *table[T]) lookup(hash uint64, eq func(T) bool) (T, bool) {
	var zero T
	if t.buckets == nil {
		return zero, false
	}
	pos := hash & t.mask
	for cur := t.buckets[pos]; cur != nil; cur = cur.next {
		if cur.hash == hash && eq(cur.value) {
			return cur.value, true
		}
	}
	return zero, false
}

func (t *table[T]) insert(hash uint64, value T) {
	pos := hash & t.mask
	t.buckets[pos] = &node[T]{hash: hash, next: t.buckets[pos], value: value}
	t.size++
}

func (t *table[T]) detach(hash uint64, eq func(T) bool) (T, bool) {
	var zero T
	if t.buckets == nil {
		return zero, false
	}
	pos := hash & t.mask
	var prev *node[T]
	for cur := t.buckets[pos]; cur != nil; cur = cur.next {
		if cur.hash == hash && eq(cur.value) {
			if prev == nil {
				t.buckets[pos] = cur.next
			} else {
				prev.next = cur.next
			}
			t.size--
			return cur.value, true
		}
		prev = cur
	}
	return zero, false
}

func (t *table[T]) scan(visit func(T)) {
	for _, head := range t.buckets {
		for cur := head; cur != nil; cur = cur.next {
			visit(cur.value)
		}
	}
}

// HMap is the keyspace container: two inner tables, ht1 active and ht2
// draining during an incremental rehash.
type HMap[T any] struct {
	ht1, ht2    table[T]
	resizingPos uint64
}

// New returns an empty HMap.
func New[T any]() *HMap[T] {
	return &HMap[T]{}
}

// Size returns the number of live entries across both inner tables.
func (h *HMap[T]) Size() int {
	return h.ht1.size + h.ht2.size
}

func (h *HMap[T]) helpResizing() {
	work := 0
	for work < resizingWork && h.ht2.size > 0 {
		if h.resizingPos >= uint64(len(h.ht2.buckets)) {
			break
		}
		head := h.ht2.buckets[h.resizingPos]
		if head == nil {
			h.resizingPos++
			continue
		}
		h.ht2.buckets[h.resizingPos] = head.next
		h.ht2.size--
		pos := head.hash & h.ht1.mask
		head.next = h.ht1.buckets[pos]
		h.ht1.buckets[pos] = head
		h.ht1.size++
		work++
	}
	if h.ht2.size == 0 && h.ht2.buckets != nil {
		h.ht2 = table[T]{}
	}
}

// Lookup finds the value whose cached hash matches and which eq accepts,
// consulting ht1 then ht2.
func (h *HMap[T]) Lookup(hash uint64, eq func(T) bool) (T, bool) {
	h.helpResizing()
	if v, ok := h.ht1.lookup(hash, eq); ok {
		return v, true
	}
	return h.ht2.lookup(hash, eq)
}

// Insert always targets ht1, triggering a resize once the load factor
// reaches maxLoadFactor, then performs a bounded slice of migration work.
func (h *HMap[T]) Insert(hash uint64, value T) {
	if h.ht1.buckets == nil {
		h.ht1.init(4)
	}
	h.ht1.insert(hash, value)
	if h.ht2.buckets == nil {
		loadFactor := h.ht1.size / int(h.ht1.mask+1)
		if loadFactor >= maxLoadFactor {
			h.startResizing()
		}
	}
	h.helpResizing()
}

func (h *HMap[T]) startResizing() {
	h.ht2 = h.ht1
	h.ht1 = table[T]{}
	h.ht1.init(int(h.ht2.mask+1) * 2)
	h.resizingPos = 0
}

// Pop detaches and returns the matching value, searching ht1 then ht2.
func (h *HMap[T]) Pop(hash uint64, eq func(T) bool) (T, bool) {
	h.helpResizing()
	if v, ok := h.ht1.detach(hash, eq); ok {
		return v, true
	}
	return h.ht2.detach(hash, eq)
}

// Scan visits every live value exactly once, in unspecified order.
func (h *HMap[T]) Scan(visit func(T)) {
	h.ht1.scan(visit)
	h.ht2.scan(visit)
}
