package stats

import (
	"testing"
	"time"
)

func TestObserveAccumulatesCounts(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	tick := base
	s.now = func() time.Time { return tick }

	s.Observe("get", false)
	tick = tick.Add(time.Second)
	s.Observe("get", false)
	tick = tick.Add(time.Second)
	s.Observe("get", true)

	snaps := s.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("snapshot count: got %d, want 1", len(snaps))
	}
	snap := snaps[0]
	if snap.Command != "get" || snap.Calls != 3 || snap.Errors != 1 {
		t.Fatalf("snapshot: got %+v", snap)
	}
}

func TestDistinctCommandsTrackedSeparately(t *testing.T) {
	s := New()
	s.Observe("get", false)
	s.Observe("set", false)
	s.Observe("set", false)

	byCmd := map[string]uint64{}
	for _, snap := range s.Snapshot() {
		byCmd[snap.Command] = snap.Calls
	}
	if byCmd["get"] != 1 || byCmd["set"] != 2 {
		t.Fatalf("per-command counts: got %+v", byCmd)
	}
}
