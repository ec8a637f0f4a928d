package model

import "errors"

// ErrNotFound is returned when a row is missing or does not belong to the user.
var ErrNotFound = errors.New("not found")

// ErrConflict means the row changed between read and write.
var ErrConflict = errors.New("concurrent modification")

// ErrJobFinished is returned by progress writes on a job that already
// reached a terminal state, for example one failed by the stale sweeper.
var ErrJobFinished = errors.New("job already finished")

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }
