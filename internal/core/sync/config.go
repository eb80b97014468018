package sync

import (
	"time"

	"github.com/zeusync/crdtsync/pkg/concurrent"
)

type Config struct {
	HeartbeatInterval time.Duration
	// MissedHeartbeats consecutive silent intervals reset the link.
	MissedHeartbeats int
	Backoff          concurrent.Backoff
	SyncTimeout      time.Duration
	OutboundQueue    int
	// MaxViolations consecutive malformed frames reset the link.
	MaxViolations int
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		MissedHeartbeats:  3,
		Backoff: concurrent.Backoff{
			Initial:     500 * time.Millisecond,
			Max:         30 * time.Second,
			Multiplier:  2,
			MaxAttempts: 10,
		},
		SyncTimeout:   30 * time.Second,
		OutboundQueue: 1024,
		MaxViolations: 5,
	}
}
