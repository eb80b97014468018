package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed  = errors.New("client is closed")
	ErrInvalidConfig = errors.New("invalid client configuration")
	ErrInvalidServer = errors.New("invalid server endpoint")
	ErrUnknownEvent  = errors.New("unknown event type")
)
