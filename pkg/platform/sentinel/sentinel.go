package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
//   - ErrNotFound: row does not exist
//   - ErrConflict: unique constraint rejected the write (e.g. member number)
//   - ErrAlreadyUsed: the row exists and cannot be created twice
//   - ErrSerialization: the transaction lost a serialization race and may be retried
//   - ErrUnavailable: the backing service could not be reached
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyUsed   = errors.New("already used")
	ErrSerialization = errors.New("serialization failure")
	ErrUnavailable   = errors.New("unavailable")
)
