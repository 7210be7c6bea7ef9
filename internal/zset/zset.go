// Package zset implements a sorted set: unique member names each
// carrying a score, ordered by the (score, name) tuple. It composes an
// indexed AVL tree (internal/avl) for rank/range queries with a hash map
// (internal/hmap) keyed by member name for O(1) membership lookups.
// Ported from the book's zset.cpp (sections 13/14).
package zset

import (
	"strings"

	"github.com/zond/keyd/internal/avl"
	"github.com/zond/keyd/internal/hmap"
)

// Node is one member of the sorted set.
type Node struct {
	Name  string
	Score float64
	tree  *avl.Node[*Node]
}

// ZSet is a sorted set of (name, score) pairs.
type ZSet struct {
	root *avl.Node[*Node]
	hm   *hmap.HMap[*Node]
}

// New returns an empty sorted set.
func New() *ZSet {
	return &ZSet{hm: hmap.New[*Node]()}
}

// compare orders two (score, name) tuples: by score first, then by the
// byte-wise comparison of the common name prefix, then by name length.
func compare(score1 float64, name1 string, score2 float64, name2 string) int {
	if score1 != score2 {
		if score1 < score2 {
			return -1
		}
		return 1
	}
	n := len(name1)
	if len(name2) < n {
		n = len(name2)
	}
	if c := strings.Compare(name1[:n], name2[:n]); c != 0 {
		return c
	}
	if len(name1) != len(name2) {
		if len(name1) < len(name2) {
			return -1
		}
		return 1
	}
	return 0
}

func less(node *Node, score float64, name string) bool {
	return compare(node.Score, node.Name, score, name) < 0
}

func nameHash(name string) uint64 {
	return hmap.HashBytes([]byte(name))
}

func treeAdd(z *ZSet, node *Node) {
	var cur *avl.Node[*Node]
	from := &z.root
	for *from != nil {
		cur = *from
		if less(node, cur.Value.Score, cur.Value.Name) {
			from = &cur.Left
		} else {
			from = &cur.Right
		}
	}
	*from = node.tree
	node.tree.Parent = cur
	z.root = avl.Fix(node.tree)
}

// Add inserts (name, score), or updates the score of an existing member.
// Returns true iff a new member was created.
func (z *ZSet) Add(name string, score float64) bool {
	if node, ok := z.lookupNode(name); ok {
		if node.Score == score {
			return false
		}
		z.root = avl.Del(node.tree)
		node.Score = score
		node.tree = avl.NewNode(node)
		treeAdd(z, node)
		return false
	}
	node := &Node{Name: name, Score: score}
	node.tree = avl.NewNode(node)
	z.hm.Insert(nameHash(name), node)
	treeAdd(z, node)
	return true
}

func (z *ZSet) lookupNode(name string) (*Node, bool) {
	return z.hm.Lookup(nameHash(name), func(n *Node) bool { return n.Name == name })
}

// Lookup returns the member named name, if any.
func (z *ZSet) Lookup(name string) (*Node, bool) {
	return z.lookupNode(name)
}

// Pop removes and returns the member named name, if any.
func (z *ZSet) Pop(name string) (*Node, bool) {
	node, ok := z.hm.Pop(nameHash(name), func(n *Node) bool { return n.Name == name })
	if !ok {
		return nil, false
	}
	z.root = avl.Del(node.tree)
	return node, true
}

// Query returns the first member whose (score, name) tuple is greater
// than or equal to (score, name), or nil.
func (z *ZSet) Query(score float64, name string) *Node {
	var found *avl.Node[*Node]
	cur := z.root
	for cur != nil {
		if less(cur.Value, score, name) {
			cur = cur.Right
		} else {
			found = cur
			cur = cur.Left
		}
	}
	if found == nil {
		return nil
	}
	return found.Value
}

// Offset returns the member at a positional delta from node, or nil if
// out of range.
func (z *ZSet) Offset(node *Node, delta int64) *Node {
	if node == nil {
		return nil
	}
	t := avl.Offset(node.tree, delta)
	if t == nil {
		return nil
	}
	return t.Value
}

// Min returns the lowest-ordered member, or nil if the set is empty.
func (z *ZSet) Min() *Node {
	t := avl.Min(z.root)
	if t == nil {
		return nil
	}
	return t.Value
}

// Len returns the number of members.
func (z *ZSet) Len() int {
	return z.hm.Size()
}

// Each visits every member in ascending (score, name) order.
func (z *ZSet) Each(visit func(*Node)) {
	avl.InOrder(z.root, func(n *avl.Node[*Node]) { visit(n.Value) })
}

// Dispose releases every node, leaving z empty.
func (z *ZSet) Dispose() {
	z.root = nil
	z.hm = hmap.New[*Node]()
}
