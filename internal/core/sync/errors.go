package sync

import "errors"

var (
	ErrHeartbeatTimeout  = errors.New("peer missed heartbeats")
	ErrTooManyViolations = errors.New("too many protocol violations")
	ErrPeerLeft          = errors.New("peer left")
	ErrUnauthorized      = errors.New("peer join rejected")
	ErrLinkClosed        = errors.New("link closed")
	ErrEngineClosed      = errors.New("sync engine closed")
)
