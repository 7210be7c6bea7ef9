package avl

import "testing"

func add(root **Node[int], val int) *Node[int] {
	node := NewNode(val)
	if *root == nil {
		*root = node
		return node
	}
	cur := *root
	for {
		var from **Node[int]
		if val < cur.Value {
			from = &cur.Left
		} else {
			from = &cur.Right
		}
		if *from == nil {
			*from = node
			node.Parent = cur
			*root = Fix(node)
			return node
		}
		cur = *from
	}
}

func checkInvariants(t *testing.T, n *Node[int]) {
	t.Helper()
	if n == nil {
		return
	}
	checkInvariants(t, n.Left)
	checkInvariants(t, n.Right)
	if got, want := n.depth, 1+max(Depth(n.Left), Depth(n.Right)); got != want {
		t.Fatalf("node %d depth: got %d, want %d", n.Value, got, want)
	}
	if got, want := n.cnt, 1+Cnt(n.Left)+Cnt(n.Right); got != want {
		t.Fatalf("node %d cnt: got %d, want %d", n.Value, got, want)
	}
	if bf := Depth(n.Left) - Depth(n.Right); bf < -1 || bf > 1 {
		t.Fatalf("node %d balance factor out of range: %d", n.Value, bf)
	}
	if n.Left != nil && n.Left.Parent != n {
		t.Fatalf("node %d left child's parent mismatch", n.Value)
	}
	if n.Right != nil && n.Right.Parent != n {
		t.Fatalf("node %d right child's parent mismatch", n.Value)
	}
}

func inOrderValues(root *Node[int]) []int {
	var out []int
	InOrder(root, func(n *Node[int]) { out = append(out, n.Value) })
	return out
}

func TestOffsetRoundTrip(t *testing.T) {
	for sz := 1; sz < 120; sz++ {
		var root *Node[int]
		for i := 0; i < sz; i++ {
			add(&root, i)
		}
		checkInvariants(t, root)
		if vals := inOrderValues(root); len(vals) != sz {
			t.Fatalf("sz=%d: in-order length %d", sz, len(vals))
		} else {
			for i, v := range vals {
				if v != i {
					t.Fatalf("sz=%d: in-order[%d]=%d, want %d", sz, i, v, i)
				}
			}
		}

		min := Min(root)
		for i := 0; i < sz; i++ {
			node := Offset(min, int64(i))
			if node == nil || node.Value != i {
				t.Fatalf("sz=%d offset(min,%d): got %v", sz, i, node)
			}
			for j := 0; j < sz; j++ {
				n2 := Offset(node, int64(j-i))
				if n2 == nil || n2.Value != j {
					t.Fatalf("sz=%d offset(%d,%d): got %v, want %d", sz, i, j-i, n2, j)
				}
			}
			if n := Offset(node, -int64(i)-1); n != nil {
				t.Fatalf("sz=%d offset(%d,%d) should be nil, got %v", sz, i, -i-1, n)
			}
			if n := Offset(node, int64(sz-i)); n != nil {
				t.Fatalf("sz=%d offset(%d,%d) should be nil, got %v", sz, i, sz-i, n)
			}
		}
	}
}

func TestDeleteMaintainsInvariants(t *testing.T) {
	var root *Node[int]
	var nodes []*Node[int]
	for i := 0; i < 300; i++ {
		nodes = append(nodes, add(&root, i))
	}
	for i, n := range nodes {
		if i%3 != 0 {
			continue
		}
		root = Del(n)
		if root != nil {
			checkInvariants(t, root)
		}
	}
	var remaining []int
	for i, n := range nodes {
		if i%3 != 0 {
			remaining = append(remaining, n.Value)
			_ = n
		}
	}
	got := inOrderValues(root)
	if len(got) != len(remaining) {
		t.Fatalf("remaining count: got %d, want %d", len(got), len(remaining))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("in-order not sorted at %d: %v", i, got)
		}
	}
}
