package aisen

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersSelect = "db:postgresql:SELECT:users"

func TestIncidentTracker_FailureOpensOnce(t *testing.T) {
	tr := NewIncidentTracker(3, 4)
	now := time.Now()

	tr1, ok := tr.RecordFailure(usersSelect, now)
	require.True(t, ok)
	assert.Equal(t, KindIncidentOpened, tr1.Kind)
	assert.Equal(t, IncidentOpen, tr1.Incident.State)
	assert.Equal(t, now, tr1.Incident.OpenedAt)

	// Repeated failures on an open incident do not reopen it.
	_, ok = tr.RecordFailure(usersSelect, now.Add(time.Second))
	assert.False(t, ok)

	inc, found := tr.Get(usersSelect)
	require.True(t, found)
	assert.Equal(t, now, inc.OpenedAt)
	assert.Equal(t, now.Add(time.Second), inc.LastFailureAt)
}

func TestIncidentTracker_BelowThresholdDoesNotResolve(t *testing.T) {
	tr := NewIncidentTracker(3, 0)
	now := time.Now()

	_, _ = tr.RecordFailure(usersSelect, now)
	for i := 0; i < 2; i++ {
		_, ok := tr.RecordSuccess(usersSelect, now)
		assert.False(t, ok, "success %d should not resolve", i+1)
	}

	inc, found := tr.Get(usersSelect)
	require.True(t, found)
	assert.Equal(t, 2, inc.ConsecutiveSuccesses)
	assert.Equal(t, IncidentOpen, inc.State)
}

func TestIncidentTracker_ResolvesOnThirdSuccess(t *testing.T) {
	tr := NewIncidentTracker(3, 0)
	now := time.Now()

	var transitions []Transition
	record := func(tt Transition, ok bool) {
		if ok {
			transitions = append(transitions, tt)
		}
	}

	record(tr.RecordFailure(usersSelect, now))
	record(tr.RecordSuccess(usersSelect, now))
	record(tr.RecordSuccess(usersSelect, now))
	require.Len(t, transitions, 1, "resolved must not follow the second success")
	record(tr.RecordSuccess(usersSelect, now))

	require.Len(t, transitions, 2)
	assert.Equal(t, KindIncidentOpened, transitions[0].Kind)
	assert.Equal(t, KindIncidentResolved, transitions[1].Kind)
	assert.Equal(t, IncidentResolved, transitions[1].Incident.State)
	assert.Equal(t, 3, transitions[1].Incident.ConsecutiveSuccesses)

	_, found := tr.Get(usersSelect)
	assert.False(t, found)
	assert.Zero(t, tr.Len())
}

func TestIncidentTracker_InterleavedFailureResetsCounter(t *testing.T) {
	tr := NewIncidentTracker(3, 0)
	now := time.Now()

	_, _ = tr.RecordFailure(usersSelect, now)
	_, _ = tr.RecordSuccess(usersSelect, now)
	_, reopened := tr.RecordFailure(usersSelect, now)
	assert.False(t, reopened)

	_, ok := tr.RecordSuccess(usersSelect, now)
	assert.False(t, ok)
	_, ok = tr.RecordSuccess(usersSelect, now)
	assert.False(t, ok)
	tt, ok := tr.RecordSuccess(usersSelect, now)
	require.True(t, ok)
	assert.Equal(t, KindIncidentResolved, tt.Kind)
}

func TestIncidentTracker_FailureAfterResolutionOpensFresh(t *testing.T) {
	tr := NewIncidentTracker(1, 0)
	first := time.Now()

	_, _ = tr.RecordFailure(usersSelect, first)
	_, ok := tr.RecordSuccess(usersSelect, first)
	require.True(t, ok)

	later := first.Add(time.Minute)
	tt, ok := tr.RecordFailure(usersSelect, later)
	require.True(t, ok)
	assert.Equal(t, later, tt.Incident.OpenedAt)
	assert.Zero(t, tt.Incident.ConsecutiveSuccesses)
}

func TestIncidentTracker_SuccessWithoutEntry(t *testing.T) {
	tr := NewIncidentTracker(3, 0)
	now := time.Now()

	_, ok := tr.RecordSuccess(usersSelect, now)
	assert.False(t, ok)
	assert.Zero(t, tr.Len())

	allocs := testing.AllocsPerRun(100, func() {
		_, _ = tr.RecordSuccess(usersSelect, now)
	})
	assert.Zero(t, allocs)
}

func TestIncidentTracker_Defaults(t *testing.T) {
	tr := NewIncidentTracker(0, 5)
	assert.Equal(t, DefaultResolutionThreshold, tr.Threshold())
	assert.Len(t, tr.shards, 8)
}

func TestIncidentTracker_Open(t *testing.T) {
	tr := NewIncidentTracker(3, 2)
	now := time.Now()
	for i := 0; i < 5; i++ {
		_, _ = tr.RecordFailure(fmt.Sprintf("task:job-%d", i), now)
	}

	assert.Len(t, tr.Open(), 5)
	assert.Equal(t, 5, tr.Len())
}

func TestIncidentTracker_ConcurrentSignals(t *testing.T) {
	tr := NewIncidentTracker(3, 0)
	now := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		opened   = map[string]int{}
		resolved = map[string]int{}
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			fp := fmt.Sprintf("http:GET:/items/%d", w%4)
			for i := 0; i < 200; i++ {
				var (
					tt Transition
					ok bool
				)
				if i%10 == 0 {
					tt, ok = tr.RecordFailure(fp, now)
				} else {
					tt, ok = tr.RecordSuccess(fp, now)
				}
				if !ok {
					continue
				}
				mu.Lock()
				if tt.Kind == KindIncidentOpened {
					opened[fp]++
				} else {
					resolved[fp]++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	// Every fingerprint alternates opened/resolved, so counts differ by at
	// most the one incident still open.
	for fp, o := range opened {
		r := resolved[fp]
		_, stillOpen := tr.Get(fp)
		if stillOpen {
			assert.Equal(t, o-1, r, fp)
		} else {
			assert.Equal(t, o, r, fp)
		}
	}
}
