package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/sync"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.DeltaReceived("todos", delta.Apply)
	c.DeltaReceived("todos", delta.Duplicate)
	c.DeltaReceived("todos", delta.Duplicate)
	c.LocalMutation("todos")
	c.Conflict("todos", "last_write_wins", "merged")
	c.SyncCycle("todos", 10*time.Millisecond, nil)
	c.SyncCycle("todos", time.Millisecond, errors.New("boom"))
	c.FullStateTransfer("todos", "in")
	c.HeartbeatMissed()
	c.ProtocolViolation()
	c.StorageRetry("set")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.deltas.WithLabelValues("todos", "apply")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.deltas.WithLabelValues("todos", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mutations.WithLabelValues("todos")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflicts.WithLabelValues("todos", "last_write_wins", "merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("todos", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("todos", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fullStates.WithLabelValues("todos", "in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.missed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.violations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("set")))
}

func TestSessionGauges(t *testing.T) {
	c := NewCollector()

	c.SessionState(sync.Disconnected, sync.Connecting)
	c.SessionState(sync.Connecting, sync.Connected)
	c.SessionState(sync.Connected, sync.Syncing)
	c.SessionState(sync.Syncing, sync.Synced)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessions.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessions.WithLabelValues("synced")))

	c.SessionState(sync.Synced, sync.Disconnected)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessions.WithLabelValues("synced")))
}

func TestCollectorObservesBus(t *testing.T) {
	c := NewCollector()
	b := bus.New()
	b.AddObserver(c)

	_, err := b.Subscribe("todos", bus.TypeChange, func(bus.Event) error { return errors.New("handler") })
	require.NoError(t, err)

	require.Error(t, b.Publish("todos", bus.NewEvent(bus.TypeChange, "todos", nil)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues(bus.TypeChange)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handlerErrs))

	n, err := testutil.GatherAndCount(c.Registry())
	require.NoError(t, err)
	assert.Positive(t, n)
}
