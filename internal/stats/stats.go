// Package stats tracks command throughput and error rates for
// diagnostics, modeled on juicemud's JS execution stats
// (game/jsstats.go): exponential-moving-average rates kept in an
// expirable cache so long-idle keys (here, command names) stop
// consuming memory without an explicit sweep.
package stats

import (
	"math"
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// statsTTL is how long a command's stats survive without being
// observed again before the cache evicts them.
const statsTTL = 24 * time.Hour

// RateStats tracks an EMA of an event count, in events per second, over
// several time windows.
type RateStats struct {
	SecondRate float64
	MinuteRate float64
	HourRate   float64
	lastUpdate time.Time
}

func (r *RateStats) observe(now time.Time, count uint64) {
	if r.lastUpdate.IsZero() {
		r.lastUpdate = now
		return
	}
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	instant := float64(count) / elapsed
	alphaSecond := 1 - math.Exp(-elapsed/1.0)
	alphaMinute := 1 - math.Exp(-elapsed/60.0)
	alphaHour := 1 - math.Exp(-elapsed/3600.0)
	r.SecondRate = alphaSecond*instant + (1-alphaSecond)*r.SecondRate
	r.MinuteRate = alphaMinute*instant + (1-alphaMinute)*r.MinuteRate
	r.HourRate = alphaHour*instant + (1-alphaHour)*r.HourRate
	r.lastUpdate = now
}

// Snapshot is a read-only view of one command's tracked stats.
type Snapshot struct {
	Command  string
	Calls    uint64
	Errors   uint64
	CallRate RateStats
	ErrRate  RateStats
}

// entry is the mutable per-command state kept in the cache.
type entry struct {
	mu       sync.Mutex
	calls    uint64
	errors   uint64
	callRate RateStats
	errRate  RateStats
}

// Stats aggregates per-command call and error counters.
type Stats struct {
	mu    sync.Mutex
	cache cache.Cache[string, *entry]
	now   func() time.Time
}

// New returns an empty Stats tracker.
func New() *Stats {
	c := cache.NewCache[string, *entry]().WithMaxKeys(4096).WithTTL(statsTTL).WithLRU()
	return &Stats{cache: c, now: time.Now}
}

func (s *Stats) entryFor(command string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache.Get(command); ok {
		return e
	}
	e := &entry{}
	s.cache.Set(command, e, 0)
	return e
}

// Observe records one execution of command, and whether it resulted in
// a command error.
func (s *Stats) Observe(command string, isError bool) {
	e := s.entryFor(command)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := s.now()
	e.calls++
	e.callRate.observe(now, 1)
	if isError {
		e.errors++
		e.errRate.observe(now, 1)
	}
}

// Snapshot returns a point-in-time view of every tracked command.
func (s *Stats) Snapshot() []Snapshot {
	s.mu.Lock()
	keys := s.cache.Keys()
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		e, ok := s.cache.Peek(k)
		if !ok {
			continue
		}
		e.mu.Lock()
		out = append(out, Snapshot{
			Command:  k,
			Calls:    e.calls,
			Errors:   e.errors,
			CallRate: e.callRate,
			ErrRate:  e.errRate,
		})
		e.mu.Unlock()
	}
	return out
}
