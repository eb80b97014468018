package config

import "errors"

var ErrInvalidReplicaID = errors.New("invalid replica id")
var ErrInvalidLogLevel = errors.New("invalid log level")
var ErrInvalidLogEncoding = errors.New("invalid log encoding")
var ErrInvalidStorageBackend = errors.New("invalid storage backend")
var ErrMissingStoragePath = errors.New("missing storage path")
var ErrInvalidCodec = errors.New("invalid codec")
var ErrInvalidTransport = errors.New("invalid transport kind")
var ErrMissingAddress = errors.New("missing address")
var ErrMissingTLSPair = errors.New("cert_file and key_file must be set together")
var ErrInvalidStrategy = errors.New("invalid conflict strategy")
var ErrInvalidPolicy = errors.New("invalid set policy")
var ErrInvalidDuration = errors.New("duration must be positive")
var ErrInvalidBackoff = errors.New("invalid backoff")
