package sync

import (
	"time"

	"github.com/zeusync/crdtsync/internal/core/delta"
)

// MetricsCollector receives engine events. Implementations must not block.
type MetricsCollector interface {
	DeltaReceived(collection string, verdict delta.Verdict)
	LocalMutation(collection string)
	Conflict(collection, strategy, outcome string)
	SyncCycle(collection string, elapsed time.Duration, err error)
	FullStateTransfer(collection, direction string)
	SessionState(from, to State)
	HeartbeatMissed()
	ProtocolViolation()
	StorageRetry(op string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ MetricsCollector = NopMetrics{}

func (NopMetrics) DeltaReceived(string, delta.Verdict)    {}
func (NopMetrics) LocalMutation(string)                   {}
func (NopMetrics) Conflict(string, string, string)        {}
func (NopMetrics) SyncCycle(string, time.Duration, error) {}
func (NopMetrics) FullStateTransfer(string, string)       {}
func (NopMetrics) SessionState(State, State)              {}
func (NopMetrics) HeartbeatMissed()                       {}
func (NopMetrics) ProtocolViolation()                     {}
func (NopMetrics) StorageRetry(string)                    {}
