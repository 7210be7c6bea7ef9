// Package store implements the keyspace: the Entry type, the
// hash-map-backed key container, and the TTL index built on top of it.
// Ported from the book's server.cpp Entry/entry_set_ttl/entry_del
// family (sections 13/14).
package store

import (
	"time"

	"github.com/zond/keyd/internal/hmap"
	"github.com/zond/keyd/internal/ttlheap"
	"github.com/zond/keyd/internal/zset"
)

// Kind discriminates the value held by an Entry.
type Kind int

const (
	KindStr Kind = iota
	KindZSet
)

// Entry is one value in the keyspace.
type Entry struct {
	Key  string
	Kind Kind
	Str  string
	ZSet *zset.ZSet

	item    *ttlheap.Item[*Entry]
	heapPos int
}

// HasTTL reports whether ent carries a TTL deadline.
func (ent *Entry) HasTTL() bool { return ent.item != nil }

// Keyspace is the process-wide key/value container.
type Keyspace struct {
	db  *hmap.HMap[*Entry]
	ttl *ttlheap.Heap[*Entry]
	now func() int64 // current time in unix milliseconds
}

// New returns an empty Keyspace using the wall clock.
func New() *Keyspace {
	return &Keyspace{
		db:  hmap.New[*Entry](),
		ttl: ttlheap.New[*Entry](),
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

func keyHash(key string) uint64 { return hmap.HashBytes([]byte(key)) }

func keyEq(key string) func(*Entry) bool {
	return func(e *Entry) bool { return e.Key == key }
}

func (k *Keyspace) lookup(key string) (*Entry, bool) {
	return k.db.Lookup(keyHash(key), keyEq(key))
}

func (k *Keyspace) insert(ent *Entry) {
	k.db.Insert(keyHash(ent.Key), ent)
}

func (k *Keyspace) pop(key string) (*Entry, bool) {
	return k.db.Pop(keyHash(key), keyEq(key))
}

// Size returns the number of live keys.
func (k *Keyspace) Size() int { return k.db.Size() }

// Scan visits every live key.
func (k *Keyspace) Scan(visit func(*Entry)) { k.db.Scan(visit) }

// setTTL installs, updates, or removes ent's TTL deadline. ttlMs < 0
// removes any existing TTL; ttlMs >= 0 sets the deadline that many
// milliseconds from now.
func (k *Keyspace) setTTL(ent *Entry, ttlMs int64) {
	if ttlMs < 0 {
		if ent.item != nil {
			k.ttl.Remove(ent.item)
			ent.item = nil
		}
		return
	}
	expireAt := k.now() + ttlMs
	if ent.item == nil {
		ent.item = k.ttl.Push(ent, expireAt, &ent.heapPos)
	} else {
		ent.item.ExpireAt = expireAt
		k.ttl.Update(ent.item)
	}
}

// remainingTTL returns the milliseconds left before ent expires, or -1
// if ent has no TTL.
func (k *Keyspace) remainingTTL(ent *Entry) int64 {
	if ent.item == nil {
		return -1
	}
	remaining := ent.item.ExpireAt - k.now()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// delete removes ent from the keyspace and disposes any owned
// structures (zset contents, TTL heap slot).
func (k *Keyspace) delete(ent *Entry) {
	if ent.Kind == KindZSet && ent.ZSet != nil {
		ent.ZSet.Dispose()
	}
	k.setTTL(ent, -1)
}

// ReapExpired pops and deletes every key whose TTL has passed, up to a
// maximum of limit evictions, preventing a large expiry burst from
// stalling the reactor loop on a single iteration.
func (k *Keyspace) ReapExpired(limit int) int {
	n := 0
	for n < limit {
		top := k.ttl.Peek()
		if top == nil || top.ExpireAt >= k.now() {
			break
		}
		ent := top.Value
		if _, ok := k.pop(ent.Key); ok {
			k.delete(ent)
		}
		n++
	}
	return n
}

// NextDeadlineMs returns the number of milliseconds until the nearest
// TTL deadline, or -1 if there is none.
func (k *Keyspace) NextDeadlineMs() int64 {
	top := k.ttl.Peek()
	if top == nil {
		return -1
	}
	remaining := top.ExpireAt - k.now()
	if remaining < 0 {
		return 0
	}
	return remaining
}
