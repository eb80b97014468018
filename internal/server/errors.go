package server

import "errors"

// Node errors
var (
	ErrNodeRunning     = errors.New("node is already running")
	ErrNodeNotRunning  = errors.New("node is not running")
	ErrListenerFailed  = errors.New("failed to create listener")
	ErrUnknownPeerKind = errors.New("unknown peer transport")
	ErrUnauthorized    = errors.New("unauthorized")
)
