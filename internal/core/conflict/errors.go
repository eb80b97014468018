package conflict

import "errors"

var (
	ErrUnknownStrategy = errors.New("unknown conflict strategy")
	ErrMissingResolver = errors.New("custom function strategy requires a resolver")
	ErrUnknownConflict = errors.New("unknown conflict")
)
