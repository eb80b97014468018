package delta

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

type logEntry struct {
	delta   Delta
	addedAt time.Time
}

// Log retains applied deltas, local and remote, so that peers that were
// away can catch up without a full state transfer. Per origin it holds a
// contiguous run of sequence numbers starting just above the floor.
type Log struct {
	mu      sync.RWMutex
	entries map[replica.ID][]logEntry
	floor   replica.VersionVector
	grace   time.Duration
	limit   int
	now     func() time.Time
}

// NewLog creates a log that keeps deltas for at least grace and at most limit
// entries. A zero limit means unbounded.
func NewLog(grace time.Duration, limit int) *Log {
	return &Log{
		entries: make(map[replica.ID][]logEntry),
		floor:   replica.NewVersionVector(),
		grace:   grace,
		limit:   limit,
		now:     time.Now,
	}
}

// Append adds d if it directly follows the last retained delta of its
// origin. Anything else is a duplicate or a gap and is ignored.
func (l *Log) Append(d Delta) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(d, l.now())
}

func (l *Log) appendLocked(d Delta, at time.Time) bool {
	run := l.entries[d.Origin]
	next := l.floor.Get(d.Origin) + 1
	if n := len(run); n > 0 {
		next = run[n-1].delta.Seq + 1
	}
	if d.Seq != next {
		return false
	}
	l.entries[d.Origin] = append(run, logEntry{delta: d, addedAt: at})
	return true
}

// Since returns the deltas not covered by vv, ordered by origin and then by
// sequence number. ErrCompacted means part of the range is gone.
func (l *Log) Since(vv replica.VersionVector) ([]Delta, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	origins := make([]replica.ID, 0, len(l.entries))
	for id := range l.entries {
		origins = append(origins, id)
	}
	for _, e := range l.floor.Entries() {
		if _, ok := l.entries[e.Replica]; !ok {
			origins = append(origins, e.Replica)
		}
	}
	slices.SortFunc(origins, replica.ID.Compare)

	var out []Delta
	for _, origin := range origins {
		have := vv.Get(origin)
		if have < l.floor.Get(origin) {
			return nil, ErrCompacted
		}
		for _, e := range l.entries[origin] {
			if e.delta.Seq > have {
				out = append(out, e.delta)
			}
		}
	}
	return out, nil
}

// Compact drops deltas older than the grace period and, beyond the size
// limit, the oldest ones. It returns the dropped keys.
func (l *Log) Compact() []Key {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped []Key
	cutoff := l.now().Add(-l.grace)
	for origin, run := range l.entries {
		i := 0
		for i < len(run) && run[i].addedAt.Before(cutoff) {
			dropped = append(dropped, run[i].delta.Key())
			i++
		}
		l.trimLocked(origin, i)
	}

	for l.limit > 0 && l.lenLocked() > l.limit {
		var (
			oldest replica.ID
			at     time.Time
			found  bool
		)
		for origin, run := range l.entries {
			if len(run) > 0 && (!found || run[0].addedAt.Before(at)) {
				oldest, at, found = origin, run[0].addedAt, true
			}
		}
		dropped = append(dropped, l.entries[oldest][0].delta.Key())
		l.trimLocked(oldest, 1)
	}
	return dropped
}

func (l *Log) trimLocked(origin replica.ID, n int) {
	if n == 0 {
		return
	}
	run := l.entries[origin]
	l.floor.Advance(origin, run[n-1].delta.Seq)
	if n == len(run) {
		delete(l.entries, origin)
		return
	}
	l.entries[origin] = slices.Clone(run[n:])
}

func (l *Log) lenLocked() int {
	n := 0
	for _, run := range l.entries {
		n += len(run)
	}
	return n
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lenLocked()
}

// Floor returns the highest compacted sequence number per origin.
func (l *Log) Floor() replica.VersionVector {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.floor.Clone()
}

// Reset forgets every delta and raises the floor to vv. It is used after a
// full state was adopted.
func (l *Log) Reset(vv replica.VersionVector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[replica.ID][]logEntry)
	l.floor = vv.Clone()
}

// Restore reloads persisted deltas on top of a persisted floor.
func (l *Log) Restore(floor replica.VersionVector, deltas []Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[replica.ID][]logEntry)
	l.floor = floor.Clone()
	slices.SortFunc(deltas, func(a, b Delta) int {
		if c := a.Origin.Compare(b.Origin); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	at := l.now()
	for _, d := range deltas {
		l.appendLocked(d, at)
	}
}
