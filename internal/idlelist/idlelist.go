// Package idlelist implements the idle-connection tracker: an
// insertion-order FIFO realized as a doubly linked list, so the
// connection that has gone longest without activity always sits at the
// front. Ported from the book's list.h (section 13) circular
// sentinel-node design, expressed with owning pointers instead of raw
// intrusive DList links.
package idlelist

// Node is one entry in the list.
type Node[T any] struct {
	Value      T
	prev, next *Node[T]
	owner      *List[T]
}

// List is a circular doubly linked list with a sentinel head node.
type List[T any] struct {
	sentinel Node[T]
}

// New returns an empty list.
func New[T any]() *List[T] {
	l := &List[T]{}
	l.sentinel.prev = &l.sentinel
	l.sentinel.next = &l.sentinel
	return l
}

// Empty reports whether the list has no entries.
func (l *List[T]) Empty() bool {
	return l.sentinel.next == &l.sentinel
}

func insertBefore[T any](target, rookie *Node[T]) {
	prev := target.prev
	prev.next = rookie
	rookie.prev = prev
	rookie.next = target
	target.prev = rookie
}

func detach[T any](node *Node[T]) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

// PushBack inserts value at the tail (the most-recently-active end) and
// returns the created Node.
func (l *List[T]) PushBack(value T) *Node[T] {
	node := &Node[T]{Value: value, owner: l}
	insertBefore(&l.sentinel, node)
	return node
}

// MoveToBack relinks node to the tail, marking it most-recently-active.
func (l *List[T]) MoveToBack(node *Node[T]) {
	detach(node)
	insertBefore(&l.sentinel, node)
}

// Remove detaches node from whichever list it belongs to.
func (l *List[T]) Remove(node *Node[T]) {
	detach(node)
	node.prev, node.next, node.owner = nil, nil, nil
}

// Front returns the node that has gone longest without activity, or nil
// if the list is empty.
func (l *List[T]) Front() *Node[T] {
	if l.Empty() {
		return nil
	}
	return l.sentinel.next
}

// Each visits every node from front to back.
func (l *List[T]) Each(visit func(*Node[T])) {
	for n := l.sentinel.next; n != &l.sentinel; n = n.next {
		visit(n)
	}
}
