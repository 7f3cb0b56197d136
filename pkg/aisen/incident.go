// incident.go tracks per-fingerprint incident state for auto-resolution.

package aisen

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultResolutionThreshold is the number of consecutive successes that
// resolve an open incident.
const DefaultResolutionThreshold = 3

// DefaultIncidentShards is the default shard count of the incident map.
const DefaultIncidentShards = 32

// IncidentState is the state of a tracked incident. An untracked fingerprint
// has no entry at all.
type IncidentState string

const (
	IncidentOpen     IncidentState = "open"
	IncidentResolved IncidentState = "resolved"
)

// Incident is the tracked lifecycle of one fingerprint from its first failure
// to resolution.
type Incident struct {
	Fingerprint          string
	State                IncidentState
	OpenedAt             time.Time
	LastFailureAt        time.Time
	ConsecutiveSuccesses int
}

// Transition is a lifecycle change produced by a signal.
type Transition struct {
	Kind     EventKind // KindIncidentOpened or KindIncidentResolved
	Incident Incident
	At       time.Time
}

// IncidentTracker is a sharded map of open incidents. Unrelated fingerprints
// land on different shards and never contend on the same lock.
type IncidentTracker struct {
	threshold int
	mask      uint64
	shards    []incidentShard
}

type incidentShard struct {
	mu      sync.RWMutex
	entries map[string]*Incident
}

// NewIncidentTracker creates a tracker. threshold <= 0 uses
// DefaultResolutionThreshold; shards is rounded up to a power of two.
func NewIncidentTracker(threshold, shards int) *IncidentTracker {
	if threshold <= 0 {
		threshold = DefaultResolutionThreshold
	}
	if shards <= 0 {
		shards = DefaultIncidentShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}

	t := &IncidentTracker{
		threshold: threshold,
		mask:      uint64(n - 1),
		shards:    make([]incidentShard, n),
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*Incident)
	}
	return t
}

// Threshold returns the configured resolution threshold.
func (t *IncidentTracker) Threshold() int { return t.threshold }

func (t *IncidentTracker) shard(fingerprint string) *incidentShard {
	return &t.shards[xxhash.Sum64String(fingerprint)&t.mask]
}

// RecordFailure signals a failure. It returns an opened transition when no
// incident existed; a failure on an open incident only resets its counter.
func (t *IncidentTracker) RecordFailure(fingerprint string, at time.Time) (Transition, bool) {
	sh := t.shard(fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if inc, ok := sh.entries[fingerprint]; ok {
		inc.LastFailureAt = at
		inc.ConsecutiveSuccesses = 0
		return Transition{}, false
	}

	inc := &Incident{
		Fingerprint:   fingerprint,
		State:         IncidentOpen,
		OpenedAt:      at,
		LastFailureAt: at,
	}
	sh.entries[fingerprint] = inc
	return Transition{Kind: KindIncidentOpened, Incident: *inc, At: at}, true
}

// RecordSuccess signals a success. It returns a resolved transition when the
// open incident reaches the threshold, and removes the entry. Without an
// entry it only takes a read lock.
func (t *IncidentTracker) RecordSuccess(fingerprint string, at time.Time) (Transition, bool) {
	sh := t.shard(fingerprint)

	sh.mu.RLock()
	_, ok := sh.entries[fingerprint]
	sh.mu.RUnlock()
	if !ok {
		return Transition{}, false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Re-check: another goroutine may have resolved it between the locks.
	inc, ok := sh.entries[fingerprint]
	if !ok {
		return Transition{}, false
	}
	inc.ConsecutiveSuccesses++
	if inc.ConsecutiveSuccesses < t.threshold {
		return Transition{}, false
	}

	delete(sh.entries, fingerprint)
	resolved := *inc
	resolved.State = IncidentResolved
	return Transition{Kind: KindIncidentResolved, Incident: resolved, At: at}, true
}

// Get returns a copy of the open incident for fingerprint.
func (t *IncidentTracker) Get(fingerprint string) (Incident, bool) {
	sh := t.shard(fingerprint)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	inc, ok := sh.entries[fingerprint]
	if !ok {
		return Incident{}, false
	}
	return *inc, true
}

// Open returns copies of all open incidents in no particular order.
func (t *IncidentTracker) Open() []Incident {
	var out []Incident
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		for _, inc := range sh.entries {
			out = append(out, *inc)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of open incidents.
func (t *IncidentTracker) Len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
