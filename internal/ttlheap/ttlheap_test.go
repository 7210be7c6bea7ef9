package ttlheap

import "testing"

func verify(t *testing.T, h *Heap[string]) {
	t.Helper()
	for i := 0; i < len(h.data); i++ {
		if l := left(i); l < len(h.data) && h.data[l].ExpireAt < h.data[i].ExpireAt {
			t.Fatalf("heap property violated at %d/%d", i, l)
		}
		if r := right(i); r < len(h.data) && h.data[r].ExpireAt < h.data[i].ExpireAt {
			t.Fatalf("heap property violated at %d/%d", i, r)
		}
		if *h.data[i].Pos != i {
			t.Fatalf("back-ref mismatch at %d: got %d", i, *h.data[i].Pos)
		}
	}
}

func TestPushPopMinOrder(t *testing.T) {
	h := New[string]()
	values := []int64{5, 1, 9, 3, 7, 2, 8, 0, 6, 4}
	poss := make([]int, len(values))
	for i, v := range values {
		h.Push("v", v, &poss[i])
	}
	verify(t, h)
	var prev int64 = -1
	for h.Len() > 0 {
		top := h.PopMin()
		if top.ExpireAt < prev {
			t.Fatalf("pop order violated: %d after %d", top.ExpireAt, prev)
		}
		prev = top.ExpireAt
		verify(t, h)
	}
}

func TestRemoveArbitrary(t *testing.T) {
	h := New[string]()
	const n = 200
	poss := make([]int, n)
	items := make([]*Item[string], n)
	for i := 0; i < n; i++ {
		items[i] = h.Push("v", int64(i*7%n), &poss[i])
	}
	verify(t, h)
	for i := 0; i < n; i += 2 {
		h.Remove(items[i])
		verify(t, h)
	}
	if h.Len() != n/2 {
		t.Fatalf("len: got %d, want %d", h.Len(), n/2)
	}
	for i := 1; i < n; i += 2 {
		if *items[i].Pos < 0 {
			t.Fatalf("item %d incorrectly marked removed", i)
		}
	}
}

func TestUpdateAfterMutation(t *testing.T) {
	h := New[string]()
	var pa, pb, pc int
	a := h.Push("a", 10, &pa)
	_ = h.Push("b", 20, &pb)
	_ = h.Push("c", 30, &pc)
	a.ExpireAt = 100
	h.Update(a)
	verify(t, h)
	if top := h.Peek(); top.Value != "b" {
		t.Fatalf("after update, min should be b, got %s", top.Value)
	}
}
